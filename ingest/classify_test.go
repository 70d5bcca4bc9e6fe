package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"abort error", &AbortError{Reason: "client went away"}, true},
		{"wrapped abort error", fmt.Errorf("poll: %w", &AbortError{}), true},
		{"econnrefused message", errors.New("connect ECONNREFUSED 127.0.0.1:8787"), true},
		{"fetch failed message", errors.New("TypeError: fetch failed"), true},
		{"timeout message", errors.New("upstream timeout"), true},
		{"socket hang up", errors.New("socket hang up"), true},
		{"context canceled", context.Canceled, true},
		{"deadline exceeded", fmt.Errorf("poll: %w", context.DeadlineExceeded), true},
		{"transient error", NewTransientError(errors.New("503 from worker"), 503), true},
		{"net timeout", timeoutErr{}, true},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, true},
		{"dns error", &net.DNSError{Err: "no such host", Name: "worker"}, true},
		{"syscall reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},

		{"validation message", errors.New("depth must be one of none, entries, results, laps_full"), false},
		{"validation sentinel", fmt.Errorf("%w: connection refused", ErrValidation), false},
		{"unknown message", errors.New("unexpected end of JSON input"), false},
		{"nil", nil, false},
		{"nil error", error(nil), false},
		{"string", "timeout", false},
		{"int", 42, false},
		{"struct", struct{ Message string }{"ECONNREFUSED"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRecoverable(tc.in))
		})
	}
}

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, JobInProgress.Terminal())
	assert.True(t, JobUpdated.Terminal())
	assert.True(t, JobAlreadyComplete.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobState("queued").Terminal())
}
