// Package jobclient talks to the ingestion worker over HTTP.
//
// POST {base}/ingest submits a job and answers 200 with a finished status or
// 202 with a job id; GET {base}/jobs/{id} reports a job's status.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/padraicbc/racedata/ingest"
	"github.com/padraicbc/racedata/models"
)

const maxErrorBody = 4 << 10

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithRateLimit caps requests per second to the worker.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client implements ingest.JobClient.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(2, 2),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ingest.JobClient = (*Client)(nil)

type statusPayload struct {
	JobID           string `json:"jobId,omitempty"`
	Status          string `json:"status"`
	Depth           string `json:"depth,omitempty"`
	RacesIngested   *int   `json:"racesIngested,omitempty"`
	ResultsIngested *int   `json:"resultsIngested,omitempty"`
	LapsIngested    *int   `json:"lapsIngested,omitempty"`
	Stage           string `json:"stage,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (p statusPayload) toStatus() (ingest.JobStatus, error) {
	st := ingest.JobStatus{
		State: ingest.JobState(p.Status),
		Progress: ingest.Progress{
			Races:   p.RacesIngested,
			Results: p.ResultsIngested,
			Laps:    p.LapsIngested,
		},
		Stage:  p.Stage,
		Reason: p.Error,
	}
	switch st.State {
	case ingest.JobInProgress, ingest.JobUpdated, ingest.JobAlreadyComplete, ingest.JobFailed:
	default:
		return ingest.JobStatus{}, fmt.Errorf("worker sent unknown job status %q", p.Status)
	}
	if p.Depth != "" {
		d := models.Depth(p.Depth)
		if !d.Valid() {
			return ingest.JobStatus{}, fmt.Errorf("worker sent unknown depth %q", p.Depth)
		}
		st.Depth = d
	}
	return st, nil
}

// Submit asks the worker to ingest an event.
func (c *Client) Submit(ctx context.Context, req ingest.JobRequest) (ingest.Submission, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ingest.Submission{}, err
	}

	var p statusPayload
	code, err := c.do(ctx, http.MethodPost, c.base+"/ingest", body, &p)
	if err != nil {
		return ingest.Submission{}, err
	}

	if code == http.StatusAccepted {
		if p.JobID == "" {
			return ingest.Submission{}, errors.New("worker accepted job without a job id")
		}
		c.log.Debug("ingest job accepted", zap.Int64("event_id", req.EventID), zap.String("job_id", p.JobID))
		return ingest.Submission{Handle: &ingest.JobHandle{ID: p.JobID}}, nil
	}

	st, err := p.toStatus()
	if err != nil {
		return ingest.Submission{}, err
	}
	sub := ingest.Submission{Status: &st}
	if p.JobID != "" {
		sub.Handle = &ingest.JobHandle{ID: p.JobID}
	}
	return sub, nil
}

// Poll fetches a job's current status.
func (c *Client) Poll(ctx context.Context, h ingest.JobHandle) (ingest.JobStatus, error) {
	var p statusPayload
	if _, err := c.do(ctx, http.MethodGet, c.base+"/jobs/"+url.PathEscape(h.ID), nil, &p); err != nil {
		return ingest.JobStatus{}, err
	}
	return p.toStatus()
}

// do sends one request and decodes a 2xx JSON body into out. Status codes
// worth retrying come back as *ingest.TransientError.
func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, statusError(method, u, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, u, err)
	}
	return resp.StatusCode, nil
}

func statusError(method, u string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	base := fmt.Errorf("%s %s: worker returned %d: %s", method, u, resp.StatusCode, strings.TrimSpace(string(msg)))

	switch {
	case isTransientStatus(resp.StatusCode):
		return ingest.NewTransientError(base, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ingest.ErrNotFound, base)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", ingest.ErrValidation, base)
	}
	return base
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
