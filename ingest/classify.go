package ingest

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// transientVocabulary are lower-case message fragments that mark transport
// or timeout failures when the error carries no structured type, e.g. text
// relayed from the worker.
var transientVocabulary = []string{
	"econnrefused",
	"econnreset",
	"econnaborted",
	"enotfound",
	"etimedout",
	"eai_again",
	"fetch failed",
	"timeout",
	"timed out",
	"deadline exceeded",
	"socket hang up",
	"connection reset",
	"connection refused",
	"no such host",
	"temporary failure in name resolution",
	"broken pipe",
	"network error",
	"server closed idle connection",
	"aborted",
}

// IsRecoverable reports whether v is a failure worth retrying later.
// Cancellation, timeouts and transport failures are recoverable; validation
// errors, unrecognised errors and anything that is not an error are not.
func IsRecoverable(v any) bool {
	err, ok := v.(error)
	if !ok || err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) {
		return false
	}

	var abort *AbortError
	if errors.As(err, &abort) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientVocabulary {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
