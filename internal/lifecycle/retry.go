package lifecycle

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls push retries against the shared remote. Disabled
// means exactly one attempt whose error propagates unmodified.
type RetryPolicy struct {
	Enabled     bool
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// Jitter randomizes each delay by up to the full computed interval so
	// simultaneous retries from sibling agents decorrelate.
	Jitter bool
}

// DefaultRetryPolicy matches the shipped configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:     true,
		MaxAttempts: 4,
		MinDelay:    500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      true,
	}
}

// RetryExhaustionError reports that an operation used up every allowed
// attempt. Err holds the final attempt's failure.
type RetryExhaustionError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *RetryExhaustionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: push failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: push failed after %d attempts", e.Operation, e.Attempts)
}

func (e *RetryExhaustionError) Unwrap() error { return e.Err }

var legacyExhaustionPattern = regexp.MustCompile(`push failed after \d+ attempts`)

// IsRetryExhaustion recognizes both the typed error and the legacy
// free-text form older tooling emitted, so callers keep detecting
// exhaustion across versions.
func IsRetryExhaustion(err error) bool {
	if err == nil {
		return false
	}
	var re *RetryExhaustionError
	if errors.As(err, &re) {
		return true
	}
	return legacyExhaustionPattern.MatchString(err.Error())
}

// cappedBackOff implements backoff.BackOff with the delay formula
// min(minDelay * 2^(attempt-1), maxDelay), optionally randomized by up to
// the full interval.
type cappedBackOff struct {
	policy  RetryPolicy
	attempt int
	rng     *rand.Rand
}

func newCappedBackOff(policy RetryPolicy) backoff.BackOff {
	return &cappedBackOff{
		policy: policy,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *cappedBackOff) NextBackOff() time.Duration {
	b.attempt++
	d := b.policy.MinDelay
	for i := 1; i < b.attempt; i++ {
		d *= 2
		if d >= b.policy.MaxDelay {
			d = b.policy.MaxDelay
			break
		}
	}
	if d > b.policy.MaxDelay {
		d = b.policy.MaxDelay
	}
	if b.policy.Jitter && d > 0 {
		d = time.Duration(b.rng.Int63n(int64(d) + 1))
	}
	return d
}

func (b *cappedBackOff) Reset() { b.attempt = 0 }
