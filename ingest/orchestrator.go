package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/metrics"
	"github.com/padraicbc/racedata/models"
)

const (
	defaultPollInterval      = 5 * time.Second
	defaultMaxAttempts       = 60
	defaultRunTimeout        = 5 * time.Minute
	defaultReconcileAttempts = 3
)

// Counts are the rows stored for an event.
type Counts struct {
	Races   int `json:"races"`
	Results int `json:"results"`
	Laps    int `json:"laps"`
}

// EventStore is the event persistence the orchestrator reads and writes.
// GetEvent returns an error matching sql.ErrNoRows for unknown events.
type EventStore interface {
	GetEvent(ctx context.Context, eventID int64) (*models.Event, error)
	// SetDepth records the ingestion time and raises the stored depth in a
	// single write. It never lowers a depth already recorded.
	SetDepth(ctx context.Context, eventID int64, depth models.Depth, at time.Time) error
	EventCounts(ctx context.Context, eventID int64) (Counts, error)
}

// Reconciler links newly visible entrants to platform users.
type Reconciler interface {
	ReconcileDriverLinks(ctx context.Context, eventID int64) ([]matching.LinkChange, error)
}

type OutcomeStatus string

const (
	StatusStarted         OutcomeStatus = "started"
	StatusAlreadyComplete OutcomeStatus = "already_complete"
	StatusFailed          OutcomeStatus = "failed"
)

// Outcome is the result of one ingestion request. A failed outcome is not
// returned as an error; Retryable tells the caller whether trying again
// later is likely to help.
type Outcome struct {
	RunID           string        `json:"runId,omitempty"`
	EventID         int64         `json:"eventId"`
	Status          OutcomeStatus `json:"status"`
	Depth           models.Depth  `json:"depth"`
	RacesIngested   *int          `json:"racesIngested,omitempty"`
	ResultsIngested *int          `json:"resultsIngested,omitempty"`
	LapsIngested    *int          `json:"lapsIngested,omitempty"`
	Stage           string        `json:"stage,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Retryable       bool          `json:"retryable"`
	LinkChanges     int           `json:"linkChanges"`
	ReconcileError  string        `json:"reconcileError,omitempty"`
	// Shared is set when the caller joined a run started by another request.
	Shared bool  `json:"shared,omitempty"`
	Err    error `json:"-"`
}

// EventStatus is the read-only view of an event's ingestion state.
type EventStatus struct {
	EventID        int64        `json:"eventId"`
	Depth          models.Depth `json:"depth"`
	LastIngestedAt *time.Time   `json:"lastIngestedAt,omitempty"`
	Counts
	InFlight bool `json:"inFlight"`
}

// Settings are the run budgets, normally taken from configuration.
type Settings struct {
	PollInterval      time.Duration
	MaxAttempts       int
	RunTimeout        time.Duration
	ReconcileAttempts int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithSettings(s Settings) Option {
	return func(o *Orchestrator) {
		if s.PollInterval > 0 {
			o.pollInterval = s.PollInterval
		}
		if s.MaxAttempts > 0 {
			o.maxAttempts = s.MaxAttempts
		}
		if s.RunTimeout > 0 {
			o.runTimeout = s.RunTimeout
		}
		if s.ReconcileAttempts > 0 {
			o.reconcileAttempts = s.ReconcileAttempts
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.runTimeout = d
		}
	}
}

func WithReconciler(r Reconciler) Option {
	return func(o *Orchestrator) {
		o.reconciler = r
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator drives an event's import through the external worker and
// records the depth reached. At most one run per event is active; concurrent
// requests for the same event share its outcome.
type Orchestrator struct {
	store      EventStore
	client     JobClient
	reconciler Reconciler
	log        *zap.Logger
	now        func() time.Time

	pollInterval      time.Duration
	maxAttempts       int
	runTimeout        time.Duration
	reconcileAttempts int

	group singleflight.Group

	mu       sync.Mutex
	inFlight map[int64]string
}

func NewOrchestrator(store EventStore, client JobClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:             store,
		client:            client,
		log:               zap.NewNop(),
		now:               func() time.Time { return time.Now().UTC() },
		pollInterval:      defaultPollInterval,
		maxAttempts:       defaultMaxAttempts,
		runTimeout:        defaultRunTimeout,
		reconcileAttempts: defaultReconcileAttempts,
		inFlight:          make(map[int64]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ingest imports eventID up to target. Unknown events and invalid input are
// returned as errors wrapping ErrNotFound or ErrValidation; everything that
// happens once the worker is involved is reported on the Outcome.
//
// The run is detached from ctx so a caller giving up does not abandon a job
// other callers may be waiting on; ctx only bounds how long this caller waits.
func (o *Orchestrator) Ingest(ctx context.Context, eventID int64, target models.Depth) (Outcome, error) {
	if eventID <= 0 {
		return Outcome{}, fmt.Errorf("%w: event id must be positive", ErrValidation)
	}
	if !target.Valid() {
		return Outcome{}, fmt.Errorf("%w: unknown depth %q", ErrValidation, target)
	}

	ch := o.group.DoChan(strconv.FormatInt(eventID, 10), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.runTimeout)
		defer cancel()
		return o.run(runCtx, eventID, target)
	})

	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		out := res.Val.(Outcome)
		out.Shared = res.Shared
		return out, nil
	}
}

func (o *Orchestrator) run(ctx context.Context, eventID int64, target models.Depth) (Outcome, error) {
	ev, err := o.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Outcome{}, fmt.Errorf("%w: event %d", ErrNotFound, eventID)
		}
		return Outcome{}, fmt.Errorf("load event %d: %w", eventID, err)
	}
	if strings.TrimSpace(ev.SourceEventID) == "" {
		return Outcome{}, fmt.Errorf("%w: event %d has no source event id", ErrNotFound, eventID)
	}

	if ev.Depth.Satisfies(target) {
		out := Outcome{EventID: ev.ID, Status: StatusAlreadyComplete, Depth: ev.Depth}
		o.fillCounts(ctx, &out, Progress{})
		metrics.RecordIngestRun(string(out.Status), 0)
		return out, nil
	}

	runID := uuid.NewString()
	log := o.log.With(
		zap.String("run_id", runID),
		zap.Int64("event_id", ev.ID),
		zap.String("source_event_id", ev.SourceEventID),
		zap.String("from", string(ev.Depth)),
		zap.String("target", string(target)),
	)

	o.track(ev.ID, runID)
	defer o.untrack(ev.ID)
	metrics.IngestStarted()
	defer metrics.IngestFinished()

	start := time.Now()
	log.Info("ingestion run started")

	out := o.execute(ctx, log, ev, target)
	out.RunID = runID

	fields := []zap.Field{
		zap.String("status", string(out.Status)),
		zap.String("depth", string(out.Depth)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if out.Status == StatusFailed {
		log.Warn("ingestion run failed", append(fields, zap.String("reason", out.Reason), zap.Bool("retryable", out.Retryable))...)
	} else {
		log.Info("ingestion run finished", append(fields, zap.Int("link_changes", out.LinkChanges))...)
	}
	metrics.RecordIngestRun(string(out.Status), time.Since(start).Seconds())
	return out, nil
}

func (o *Orchestrator) execute(ctx context.Context, log *zap.Logger, ev *models.Event, target models.Depth) Outcome {
	status, err := o.drive(ctx, log, ev, target)
	if err != nil {
		return o.failed(ev, err.Error(), IsRecoverable(err), err)
	}

	switch status.State {
	case JobFailed:
		reason := status.Reason
		if reason == "" {
			reason = "worker reported failure"
		}
		return o.failed(ev, reason, false, errors.New(reason))
	case JobUpdated, JobAlreadyComplete:
	default:
		err := fmt.Errorf("worker reported unknown state %q", status.State)
		return o.failed(ev, err.Error(), false, err)
	}

	depth := ev.Depth.Max(target)
	if status.Depth.Valid() {
		depth = ev.Depth.Max(status.Depth)
	}

	// The job is done; record it even if the run deadline has just passed.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := o.store.SetDepth(commitCtx, ev.ID, depth, o.now()); err != nil {
		err = fmt.Errorf("record depth: %w", err)
		return o.failed(ev, err.Error(), true, err)
	}
	// Another process may have committed a deeper run meanwhile.
	if cur, err := o.store.GetEvent(commitCtx, ev.ID); err == nil {
		depth = depth.Max(cur.Depth)
	}

	out := Outcome{
		EventID: ev.ID,
		Status:  StatusStarted,
		Depth:   depth,
		Stage:   status.Stage,
	}
	if status.State == JobAlreadyComplete {
		out.Status = StatusAlreadyComplete
	}
	o.fillCounts(commitCtx, &out, status.Progress)

	if depth.HasEntrants() && o.reconciler != nil {
		changes, err := o.reconcile(commitCtx, log, ev.ID)
		out.LinkChanges = len(changes)
		if err != nil {
			log.Error("driver link reconciliation failed", zap.Error(err))
			out.ReconcileError = err.Error()
		}
	}
	return out
}

// drive submits the job and, when the worker answers asynchronously, polls
// it to a terminal state.
func (o *Orchestrator) drive(ctx context.Context, log *zap.Logger, ev *models.Event, target models.Depth) (JobStatus, error) {
	sub, err := o.client.Submit(ctx, JobRequest{
		EventID:       ev.ID,
		SourceEventID: ev.SourceEventID,
		TrackID:       ev.TrackID,
		Depth:         target,
	})
	if err != nil {
		return JobStatus{}, fmt.Errorf("submit job: %w", err)
	}

	if sub.Status != nil && sub.Status.State.Terminal() {
		log.Debug("worker finished synchronously", zap.String("state", string(sub.Status.State)))
		return *sub.Status, nil
	}
	if sub.Handle == nil || sub.Handle.ID == "" {
		return JobStatus{}, errors.New("worker returned neither a result nor a job handle")
	}
	return o.poll(ctx, log, *sub.Handle)
}

// poll checks the job every pollInterval until it reaches a terminal state.
// Recoverable poll errors are absorbed until the attempt budget or the run
// deadline runs out; anything else ends the run at once.
func (o *Orchestrator) poll(ctx context.Context, log *zap.Logger, h JobHandle) (JobStatus, error) {
	log = log.With(zap.String("job_id", h.ID))
	timer := time.NewTimer(o.pollInterval)
	defer timer.Stop()

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return JobStatus{}, budgetErr(ctx.Err(), attempt-1, lastErr)
		case <-timer.C:
		}

		st, err := o.client.Poll(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return JobStatus{}, budgetErr(ctx.Err(), attempt, err)
			}
			if !IsRecoverable(err) {
				metrics.RecordPoll(false)
				return JobStatus{}, fmt.Errorf("poll job %s: %w", h.ID, err)
			}
			metrics.RecordPoll(true)
			log.Warn("transient poll failure", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			timer.Reset(o.pollInterval)
			continue
		}
		metrics.RecordPoll(false)

		if st.State == JobInProgress {
			log.Debug("job in progress",
				zap.Int("attempt", attempt),
				zap.String("stage", st.Stage),
				zap.Intp("races", st.Progress.Races),
				zap.Intp("results", st.Progress.Results),
				zap.Intp("laps", st.Progress.Laps),
			)
			timer.Reset(o.pollInterval)
			continue
		}
		return st, nil
	}

	return JobStatus{}, budgetErr(nil, o.maxAttempts, lastErr)
}

// budgetErr reports a run that stopped waiting for the worker. It is always
// recoverable: a later request may find the job finished.
func budgetErr(ctxErr error, attempts int, last error) error {
	var err error
	switch {
	case ctxErr != nil && last != nil:
		err = fmt.Errorf("run timed out after %d polls: %w (last error: %w)", attempts, ctxErr, last)
	case ctxErr != nil:
		err = fmt.Errorf("run timed out after %d polls: %w", attempts, ctxErr)
	case last != nil:
		err = fmt.Errorf("polling budget of %d attempts exhausted: %w", attempts, last)
	default:
		err = fmt.Errorf("polling budget of %d attempts exhausted", attempts)
	}
	return NewTransientError(err, 0)
}

func (o *Orchestrator) failed(ev *models.Event, reason string, retryable bool, cause error) Outcome {
	return Outcome{
		EventID:   ev.ID,
		Status:    StatusFailed,
		Depth:     ev.Depth,
		Reason:    reason,
		Retryable: retryable,
		Err:       fmt.Errorf("%w: %w", ErrIngestionFailed, cause),
	}
}

// reconcile retries recoverable failures a bounded number of times.
func (o *Orchestrator) reconcile(ctx context.Context, log *zap.Logger, eventID int64) ([]matching.LinkChange, error) {
	var lastErr error
	for attempt := 1; attempt <= o.reconcileAttempts; attempt++ {
		changes, err := o.reconciler.ReconcileDriverLinks(ctx, eventID)
		if err == nil {
			return changes, nil
		}
		lastErr = err
		if !IsRecoverable(err) || attempt == o.reconcileAttempts {
			break
		}
		log.Warn("retrying driver link reconciliation", zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(o.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// fillCounts uses the worker's progress where given and the store otherwise.
func (o *Orchestrator) fillCounts(ctx context.Context, out *Outcome, p Progress) {
	out.RacesIngested, out.ResultsIngested, out.LapsIngested = p.Races, p.Results, p.Laps
	if p.Races != nil && p.Results != nil && p.Laps != nil {
		return
	}

	c, err := o.store.EventCounts(ctx, out.EventID)
	if err != nil {
		o.log.Warn("could not count event rows", zap.Int64("event_id", out.EventID), zap.Error(err))
		return
	}
	if out.RacesIngested == nil {
		out.RacesIngested = &c.Races
	}
	if out.ResultsIngested == nil {
		out.ResultsIngested = &c.Results
	}
	if out.LapsIngested == nil {
		out.LapsIngested = &c.Laps
	}
}

// Status reports an event's depth, last ingestion time and row counts.
func (o *Orchestrator) Status(ctx context.Context, eventID int64) (EventStatus, error) {
	ev, err := o.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EventStatus{}, fmt.Errorf("%w: event %d", ErrNotFound, eventID)
		}
		return EventStatus{}, fmt.Errorf("load event %d: %w", eventID, err)
	}
	c, err := o.store.EventCounts(ctx, eventID)
	if err != nil {
		return EventStatus{}, fmt.Errorf("count event %d: %w", eventID, err)
	}

	o.mu.Lock()
	_, running := o.inFlight[eventID]
	o.mu.Unlock()

	return EventStatus{
		EventID:        ev.ID,
		Depth:          ev.Depth,
		LastIngestedAt: ev.LastIngestedAt,
		Counts:         c,
		InFlight:       running,
	}, nil
}

func (o *Orchestrator) track(eventID int64, runID string) {
	o.mu.Lock()
	o.inFlight[eventID] = runID
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(eventID int64) {
	o.mu.Lock()
	delete(o.inFlight, eventID)
	o.mu.Unlock()
}
