package lifecycle

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/laneway/internal/debug"
)

// PushRefspecWithRetry pushes localRef to remoteRef, resolving rejections
// optimistically: a rejected push almost always means a sibling agent
// advanced trunk, so before each retry the remote trunk is refetched and
// the local branch rebased onto it. Exhausting every attempt returns a
// RetryExhaustionError; with retries disabled the single attempt's error
// propagates unmodified.
func (m *Manager) PushRefspecWithRetry(ctx context.Context, g GitOps, localRef, remoteRef, operation string) error {
	return m.pushWithRetry(ctx, g, localRef, remoteRef, operation, "")
}

// ForcePushRefspecWithRetry is the force variant. forceReason is recorded
// in the ambient ForceAuthorization for exactly the duration of each push
// call; the prior ambient state is restored on every exit path so
// concurrent operations in this process never inherit a stale grant.
func (m *Manager) ForcePushRefspecWithRetry(ctx context.Context, g GitOps, localRef, remoteRef, operation, forceReason string) error {
	if forceReason == "" {
		forceReason = "forced push requested by " + operation
	}
	return m.pushWithRetry(ctx, g, localRef, remoteRef, operation, forceReason)
}

func (m *Manager) pushWithRetry(ctx context.Context, g GitOps, localRef, remoteRef, operation, forceReason string) error {
	refspec := localRef + ":" + remoteRef

	pushOnce := func() error {
		if forceReason == "" {
			return g.Push(ctx, m.remote, refspec, false)
		}
		restore := authorizeForce(forceReason)
		defer restore()
		return g.Push(ctx, m.remote, refspec, true)
	}

	if !m.retry.Enabled {
		return pushOnce()
	}
	maxAttempts := m.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 {
			// Optimistic-concurrency resolution: pull in whatever advanced
			// trunk before trying again.
			if err := g.Fetch(ctx, m.remote, m.trunk); err != nil {
				debug.Logf("lifecycle: %s: refetch before retry failed: %v\n", operation, err)
			}
			if err := g.Rebase(ctx, m.remoteTrunk()); err != nil {
				return err
			}
		}
		if err := pushOnce(); err != nil {
			debug.Logf("lifecycle: %s: push attempt %d failed: %v\n", operation, attempts, err)
			return err
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(newCappedBackOff(m.retry), uint64(maxAttempts-1)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if ctx.Err() != nil && attempts < maxAttempts {
			return err
		}
		return &RetryExhaustionError{Operation: operation, Attempts: attempts, Err: err}
	}
	return nil
}
