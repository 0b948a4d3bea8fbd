// Package retry implements the fetch-with-retry backoff policy, grounded on
// original_source/server/app/services/sync_service.py's
// _fetch_events_with_retry: exact sleep formulas per error kind, with
// jitter drawn from math/rand so two concurrent retries never thunder in
// lockstep.
package retry

import (
	"math/rand"
	"time"

	"github.com/macjediwizard/calsync/internal/provider"
)

// Action tells the caller what to do after a failed attempt.
type Action int

const (
	// ActionGiveUp means the error is not retryable (or retries are
	// exhausted); surface it to the caller.
	ActionGiveUp Action = iota
	// ActionSleepAndRetry means wait Decision.Sleep then retry the same
	// call with the same parameters.
	ActionSleepAndRetry
	// ActionResetDeltaTokenAndRetry means clear the stored delta token and
	// retry immediately as a window-based fetch, without consuming an
	// attempt from the budget (mirrors the Python client's recursive
	// "Invalid sync token" branch).
	ActionResetDeltaTokenAndRetry
)

// Decision is the outcome of one Decide call.
type Decision struct {
	Action Action
	Sleep  time.Duration
}

const maxRateLimitSleep = 300 * time.Second

// Decide maps a failed attempt to the next action, matching
// _fetch_events_with_retry's branches:
//
//   - InvalidDeltaToken: reset the token and retry without spending an
//     attempt.
//   - RateLimited: sleep min(retry_after ∨ 2^attempt, 300s) + uniform(0.1,0.5).
//   - Transient: sleep 2^attempt + uniform(0.1,1.0).
//   - AuthExpired, Permanent, Unsupported, or attempt >= maxRetries: give up.
func Decide(attempt, maxRetries int, err error) Decision {
	kind := provider.KindOf(err)

	if kind == provider.KindInvalidDeltaToken {
		return Decision{Action: ActionResetDeltaTokenAndRetry}
	}

	if attempt >= maxRetries {
		return Decision{Action: ActionGiveUp}
	}

	switch kind {
	case provider.KindRateLimited:
		base := exponentialSeconds(attempt)
		if retryAfter := provider.RetryAfterOf(err); retryAfter != nil {
			base = retryAfter.Seconds()
		}
		if base > maxRateLimitSleep.Seconds() {
			base = maxRateLimitSleep.Seconds()
		}
		sleep := time.Duration(base*float64(time.Second)) + jitter(0.1, 0.5)
		return Decision{Action: ActionSleepAndRetry, Sleep: sleep}

	case provider.KindTransient:
		sleep := time.Duration(exponentialSeconds(attempt)*float64(time.Second)) + jitter(0.1, 1.0)
		return Decision{Action: ActionSleepAndRetry, Sleep: sleep}

	default:
		// AuthExpired, Permanent, Unsupported.
		return Decision{Action: ActionGiveUp}
	}
}

func exponentialSeconds(attempt int) float64 {
	return float64(int64(1) << uint(attempt))
}

func jitter(low, high float64) time.Duration {
	spread := high - low
	f := low + rand.Float64()*spread
	return time.Duration(f * float64(time.Second))
}
