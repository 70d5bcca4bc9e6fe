package jobclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padraicbc/racedata/ingest"
	"github.com/padraicbc/racedata/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", WithToken("secret"), WithRateLimit(1000))
}

func TestSubmit_Accepted(t *testing.T) {
	var got ingest.JobRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ingest", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"jobId":"job-42"}`))
	})

	sub, err := c.Submit(context.Background(), ingest.JobRequest{EventID: 1, SourceEventID: "rc-1", TrackID: 9, Depth: models.DepthLapsFull})
	require.NoError(t, err)
	require.NotNil(t, sub.Handle)
	assert.Equal(t, "job-42", sub.Handle.ID)
	assert.Nil(t, sub.Status)
	assert.Equal(t, "rc-1", got.SourceEventID)
	assert.Equal(t, models.DepthLapsFull, got.Depth)
}

func TestSubmit_Synchronous(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"updated","depth":"entries","racesIngested":0,"resultsIngested":0,"lapsIngested":0,"stage":"entries"}`))
	})

	sub, err := c.Submit(context.Background(), ingest.JobRequest{EventID: 1, Depth: models.DepthEntries})
	require.NoError(t, err)
	require.NotNil(t, sub.Status)
	assert.Nil(t, sub.Handle)
	assert.Equal(t, ingest.JobUpdated, sub.Status.State)
	assert.Equal(t, models.DepthEntries, sub.Status.Depth)
	require.NotNil(t, sub.Status.Progress.Laps)
	assert.Equal(t, 0, *sub.Status.Progress.Laps)
}

func TestSubmit_AcceptedWithoutID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.Submit(context.Background(), ingest.JobRequest{EventID: 1})
	require.Error(t, err)
	assert.False(t, ingest.IsRecoverable(err))
}

func TestPoll(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/job 1", r.URL.Path)
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"status":"in_progress","stage":"laps","racesIngested":5}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"updated","depth":"laps_full","racesIngested":5,"resultsIngested":45,"lapsIngested":450}`))
	})

	st, err := c.Poll(context.Background(), ingest.JobHandle{ID: "job 1"})
	require.NoError(t, err)
	assert.Equal(t, ingest.JobInProgress, st.State)
	assert.Equal(t, "laps", st.Stage)
	assert.Nil(t, st.Progress.Laps)

	st, err = c.Poll(context.Background(), ingest.JobHandle{ID: "job 1"})
	require.NoError(t, err)
	assert.Equal(t, ingest.JobUpdated, st.State)
	assert.Equal(t, 450, *st.Progress.Laps)
}

func TestPoll_FailedCarriesReason(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed","error":"timing site returned no entries"}`))
	})
	st, err := c.Poll(context.Background(), ingest.JobHandle{ID: "x"})
	require.NoError(t, err)
	assert.Equal(t, ingest.JobFailed, st.State)
	assert.Equal(t, "timing site returned no entries", st.Reason)
}

func TestPoll_UnknownStatusRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	})
	_, err := c.Poll(context.Background(), ingest.JobHandle{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queued")
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		code        int
		recoverable bool
		sentinel    error
	}{
		{http.StatusServiceUnavailable, true, nil},
		{http.StatusBadGateway, true, nil},
		{http.StatusTooManyRequests, true, nil},
		{http.StatusNotFound, false, ingest.ErrNotFound},
		{http.StatusBadRequest, false, ingest.ErrValidation},
		{http.StatusUnauthorized, false, nil},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.code)
			})
			_, err := c.Poll(context.Background(), ingest.JobHandle{ID: "x"})
			require.Error(t, err)
			assert.Equal(t, tc.recoverable, ingest.IsRecoverable(err), err.Error())
			if tc.sentinel != nil {
				assert.ErrorIs(t, err, tc.sentinel)
			}
			var te *ingest.TransientError
			if tc.recoverable {
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tc.code, te.StatusCode)
			}
		})
	}
}

func TestConnectionRefusedIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(addr).Poll(context.Background(), ingest.JobHandle{ID: "x"})
	require.Error(t, err)
	assert.True(t, ingest.IsRecoverable(err), err.Error())
}

func TestRateLimitHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"in_progress"}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Poll(ctx, ingest.JobHandle{ID: "x"})
	require.Error(t, err)
}
