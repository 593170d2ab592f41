package ai

import (
	"time"

	"github.com/huskbot/husk/pkg/providers"
)

// Action is the next step after a failed attempt.
type Action int

const (
	// ActionRotateModel advances the model (resetting credentials) and
	// retries immediately.
	ActionRotateModel Action = iota
	// ActionRotateCredential advances the credential and retries after
	// the decision's backoff.
	ActionRotateCredential
	// ActionRotateModelBackoff advances the model on a transient-error
	// cadence, with backoff.
	ActionRotateModelBackoff
	// ActionEscapeHatch means the rotation budget is spent; make the
	// single last-resort call.
	ActionEscapeHatch
)

// Decision is one step of the failover policy.
type Decision struct {
	Action  Action
	Backoff time.Duration
}

const (
	backoffBase = 1000 * time.Millisecond
	backoffCap  = 10000 * time.Millisecond
)

// BackoffFor returns the exponential backoff for a zero-based attempt
// index, capped at 10 seconds.
func BackoffFor(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// Decide maps (error kind, attempt index, budget, registry size) to the
// next action. It is a pure function: rotation state lives with the
// caller.
//
// Quota and not-found are configuration failures: the (credential,
// model) pair will never work, so the model rotates with no backoff.
// Transient failures rotate the credential, except every nModels-th
// attempt which rotates the model so credential exhaustion is probed
// per model before moving on. Both transient paths back off.
func Decide(kind providers.ErrorKind, attempt, budget, nModels int) Decision {
	if attempt+1 >= budget {
		return Decision{Action: ActionEscapeHatch}
	}

	switch kind {
	case providers.ErrKindQuota, providers.ErrKindNotFound:
		return Decision{Action: ActionRotateModel}
	default:
		backoff := BackoffFor(attempt)
		if nModels > 0 && (attempt+1)%nModels == 0 {
			return Decision{Action: ActionRotateModelBackoff, Backoff: backoff}
		}
		return Decision{Action: ActionRotateCredential, Backoff: backoff}
	}
}
