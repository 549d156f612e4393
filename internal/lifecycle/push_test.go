package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		Enabled:     true,
		MaxAttempts: maxAttempts,
		MinDelay:    time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	}
}

func newPushManager(t *testing.T, repo *fakeRepo, policy RetryPolicy) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), WithGit(repo.git), WithRetryPolicy(policy))
}

func TestPushRefspecWithRetryExhaustsExactly(t *testing.T) {
	repo := newFakeRepo()
	pushErr := errors.New("rejected: non-fast-forward")
	repo.pushErrs = []error{pushErr, pushErr, pushErr}
	m := newPushManager(t, repo, testRetryPolicy(3))

	err := m.PushRefspecWithRetry(context.Background(), repo.git("/wt"), "tmp/done/wu-001", "main", "complete WU-001")
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	var re *RetryExhaustionError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RetryExhaustionError", err)
	}
	if re.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", re.Attempts)
	}
	if repo.pushCalls != 3 {
		t.Errorf("push calls = %d, want exactly 3", repo.pushCalls)
	}
	if !IsRetryExhaustion(err) {
		t.Error("IsRetryExhaustion should recognize the typed error")
	}
}

func TestPushRefspecWithRetryRebasesBetweenAttempts(t *testing.T) {
	repo := newFakeRepo()
	repo.pushErrs = []error{errors.New("rejected")} // first fails, second succeeds
	m := newPushManager(t, repo, testRetryPolicy(2))

	err := m.PushRefspecWithRetry(context.Background(), repo.git("/wt"), "tmp/done/wu-001", "main", "complete WU-001")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if repo.pushCalls != 2 {
		t.Errorf("push calls = %d, want 2", repo.pushCalls)
	}
	if repo.fetchCalls != 1 {
		t.Errorf("fetch calls = %d, want exactly 1 before the retry", repo.fetchCalls)
	}
	if repo.rebaseCalls != 1 {
		t.Errorf("rebase calls = %d, want exactly 1 before the retry", repo.rebaseCalls)
	}
}

func TestPushRefspecWithRetrySingleAttemptStillWrapsExhaustion(t *testing.T) {
	repo := newFakeRepo()
	pushErr := errors.New("rejected: non-fast-forward")
	repo.pushErrs = []error{pushErr}
	m := newPushManager(t, repo, testRetryPolicy(1))

	err := m.PushRefspecWithRetry(context.Background(), repo.git("/wt"), "tmp/done/wu-001", "main", "complete WU-001")
	var re *RetryExhaustionError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RetryExhaustionError", err)
	}
	if re.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", re.Attempts)
	}
	if repo.pushCalls != 1 {
		t.Errorf("push calls = %d, want 1", repo.pushCalls)
	}
	if repo.fetchCalls != 0 || repo.rebaseCalls != 0 {
		t.Errorf("fetch/rebase calls = %d/%d, want none on a single attempt",
			repo.fetchCalls, repo.rebaseCalls)
	}
}

func TestPushRefspecWithRetryDisabled(t *testing.T) {
	repo := newFakeRepo()
	pushErr := errors.New("remote hung up")
	repo.pushErrs = []error{pushErr}
	m := newPushManager(t, repo, RetryPolicy{Enabled: false, MaxAttempts: 5})

	err := m.PushRefspecWithRetry(context.Background(), repo.git("/wt"), "tmp/done/wu-001", "main", "complete WU-001")
	if !errors.Is(err, pushErr) {
		t.Fatalf("err = %v, want the raw push error unmodified", err)
	}
	if repo.pushCalls != 1 {
		t.Errorf("push calls = %d, want 1", repo.pushCalls)
	}
	if repo.rebaseCalls != 0 {
		t.Errorf("rebase calls = %d, want 0", repo.rebaseCalls)
	}
}

func TestForcePushScopedAuthorization(t *testing.T) {
	repo := newFakeRepo()
	m := newPushManager(t, repo, testRetryPolicy(2))

	before := CurrentForceAuthorization()

	err := m.ForcePushRefspecWithRetry(context.Background(), repo.git("/wt"), "lane/core/wu-001", "lane/core/wu-001", "republish", "review rewrite")
	if err != nil {
		t.Fatalf("force push: %v", err)
	}
	if got := CurrentForceAuthorization(); got != before {
		t.Errorf("authorization after success = %+v, want prior state %+v", got, before)
	}
	if len(repo.forcePushes) != 1 || !repo.forcePushes[0] {
		t.Errorf("forcePushes = %v, want one forced push", repo.forcePushes)
	}

	repo.pushErrs = []error{errors.New("boom"), errors.New("boom")}
	err = m.ForcePushRefspecWithRetry(context.Background(), repo.git("/wt"), "lane/core/wu-001", "lane/core/wu-001", "republish", "review rewrite")
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := CurrentForceAuthorization(); got != before {
		t.Errorf("authorization after failure = %+v, want prior state %+v", got, before)
	}
}

func TestIsRetryExhaustionLegacyText(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed", &RetryExhaustionError{Operation: "complete WU-001", Attempts: 4}, true},
		{"wrapped typed", errors.Join(errors.New("outer"), &RetryExhaustionError{Attempts: 2}), true},
		{"legacy text", errors.New("push failed after 3 attempts"), true},
		{"legacy text embedded", errors.New("sync: push failed after 12 attempts (giving up)"), true},
		{"unrelated", errors.New("connection reset"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryExhaustion(tt.err); got != tt.want {
				t.Errorf("IsRetryExhaustion(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCappedBackOffDelays(t *testing.T) {
	bo := newCappedBackOff(RetryPolicy{
		MinDelay: 100 * time.Millisecond,
		MaxDelay: 800 * time.Millisecond,
	})
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond, // capped
	}
	for i, w := range want {
		if got := bo.NextBackOff(); got != w {
			t.Errorf("delay %d = %v, want %v", i+1, got, w)
		}
	}

	bo.Reset()
	if got := bo.NextBackOff(); got != 100*time.Millisecond {
		t.Errorf("after Reset first delay = %v, want 100ms", got)
	}
}

func TestCappedBackOffJitterBounds(t *testing.T) {
	policy := RetryPolicy{
		MinDelay: 100 * time.Millisecond,
		MaxDelay: 800 * time.Millisecond,
		Jitter:   true,
	}
	bo := newCappedBackOff(policy)
	ceilings := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}
	for i, ceil := range ceilings {
		d := bo.NextBackOff()
		if d < 0 || d > ceil {
			t.Errorf("jittered delay %d = %v, want within [0, %v]", i+1, d, ceil)
		}
	}
}
