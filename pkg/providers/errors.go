package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed backend call for the orchestrator's
// rotation policy.
type ErrorKind int

const (
	// ErrKindTransient covers network failures, 5xx responses, and
	// anything not otherwise classified. Retryable with backoff.
	ErrKindTransient ErrorKind = iota
	// ErrKindQuota means the (credential, model) pair is exhausted or
	// rate-limited. Triggers rotation without backoff.
	ErrKindQuota
	// ErrKindNotFound means the model or endpoint does not exist for
	// this backend. Triggers rotation without backoff.
	ErrKindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindQuota:
		return "quota"
	case ErrKindNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

// CallError is a classified backend failure.
type CallError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Message  string
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// quotaPatterns and notFoundPatterns catch backends that report
// exhaustion or missing models with a 200-family status or a generic 400.
var (
	quotaPatterns    = []string{"quota", "rate limit", "rate_limit", "resource has been exhausted", "insufficient balance", "billing"}
	notFoundPatterns = []string{"model not found", "does not exist", "unknown model", "is not found"}
)

func classifyStatus(status int) (ErrorKind, bool) {
	switch status {
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return ErrKindQuota, true
	case http.StatusNotFound:
		return ErrKindNotFound, true
	}
	return 0, false
}

func classifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	for _, p := range quotaPatterns {
		if strings.Contains(lower, p) {
			return ErrKindQuota
		}
	}
	for _, p := range notFoundPatterns {
		if strings.Contains(lower, p) {
			return ErrKindNotFound
		}
	}
	return ErrKindTransient
}

func newCallError(provider string, status int, msg string) *CallError {
	kind, ok := classifyStatus(status)
	if !ok {
		kind = classifyMessage(msg)
	}
	return &CallError{Provider: provider, Kind: kind, Status: status, Message: msg}
}

// Classify maps any error from a provider call onto the taxonomy.
// Context cancellation and unclassified errors count as transient.
func Classify(err error) ErrorKind {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrKindTransient
	}
	return classifyMessage(err.Error())
}
