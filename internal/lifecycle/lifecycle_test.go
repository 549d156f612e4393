package lifecycle

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/laneway/internal/types"
	"github.com/steveyegge/laneway/internal/wstate"
)

// writeRecordFileOnly writes the record file directly, bypassing the
// status-store mirroring the real writer does, to stage a divergence.
func writeRecordFileOnly(s *wstate.Store, rec *types.Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(s.RecordPath(rec.ID), data, 0o644)
}

var testClock = func() time.Time {
	return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func newTestManager(t *testing.T, repo *fakeRepo) *Manager {
	t.Helper()
	return NewManager(t.TempDir(),
		WithGit(repo.git),
		WithRetryPolicy(testRetryPolicy(2)),
		WithClock(testClock),
	)
}

func mustCreate(t *testing.T, m *Manager, id, lane string, codePaths ...string) {
	t.Helper()
	if _, err := m.Create(context.Background(), id, lane, "test work", codePaths, nil); err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
}

func TestClaimTransitionsAndCapturesBaseline(t *testing.T) {
	repo := newFakeRepo()
	repo.trunkSHA, repo.remoteSHA = "abc123", "abc123"
	m := newTestManager(t, repo)
	mustCreate(t, m, "WU-100", "core")

	lane := types.Lane{Name: "core", WIPLimit: 1}
	res, err := m.Claim(context.Background(), "wu-100", lane, types.ModeDirect)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Record.Status != types.StatusInProgress {
		t.Errorf("status = %s, want in_progress", res.Record.Status)
	}
	if res.Record.BaselineMainSHA != "abc123" {
		t.Errorf("baseline = %q, want abc123", res.Record.BaselineMainSHA)
	}
	if res.Branch != "lane/core/wu-100" {
		t.Errorf("branch = %q", res.Branch)
	}
	if _, ok := repo.branches["lane/core/wu-100"]; !ok {
		t.Error("lane branch was not created")
	}

	info, err := m.Store().Resolve("WU-100")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if info.Record.Status != types.StatusInProgress || !info.IsConsistent {
		t.Errorf("persisted record = %+v", info.Record)
	}
}

func TestClaimWrongStatus(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	mustCreate(t, m, "WU-100", "core")

	lane := types.Lane{Name: "core", WIPLimit: 2}
	if _, err := m.Claim(context.Background(), "WU-100", lane, types.ModeDirect); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	_, err := m.Claim(context.Background(), "WU-100", lane, types.ModeDirect)
	var wrongStatus *WrongStatusError
	if !errors.As(err, &wrongStatus) {
		t.Fatalf("err = %v, want WrongStatusError", err)
	}
	if wrongStatus.Got != types.StatusInProgress {
		t.Errorf("Got = %s, want in_progress", wrongStatus.Got)
	}
}

func TestLaneAdmissionEndToEnd(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	mustCreate(t, m, "WU-100", "core")
	mustCreate(t, m, "WU-101", "core")

	lane := types.Lane{Name: "core", WIPLimit: 1}
	ctx := context.Background()

	if _, err := m.Claim(ctx, "WU-100", lane, types.ModeDirect); err != nil {
		t.Fatalf("agent A claim: %v", err)
	}

	_, err := m.Claim(ctx, "WU-101", lane, types.ModeDirect)
	var capacity *wstate.LaneAtCapacityError
	if !errors.As(err, &capacity) {
		t.Fatalf("agent B claim err = %v, want LaneAtCapacityError", err)
	}

	if _, err := m.Complete(ctx, "WU-100"); err != nil {
		t.Fatalf("agent A complete: %v", err)
	}

	if _, err := m.Claim(ctx, "WU-101", lane, types.ModeDirect); err != nil {
		t.Fatalf("agent B claim after lane freed: %v", err)
	}
}

func TestCompleteStampsAndPublishes(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	mustCreate(t, m, "WU-200", "infra", "internal/server/main.go")

	lane := types.Lane{Name: "infra", WIPLimit: 1}
	ctx := context.Background()
	if _, err := m.Claim(ctx, "WU-200", lane, types.ModeDirect); err != nil {
		t.Fatalf("claim: %v", err)
	}

	res, err := m.Complete(ctx, "WU-200")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.AlreadyComplete {
		t.Error("first completion reported AlreadyComplete")
	}
	if !res.StampCreated {
		t.Error("stamp was not created")
	}
	if !m.Store().IsStamped("WU-200") {
		t.Error("IsStamped = false after completion")
	}
	if repo.pushCalls == 0 {
		t.Error("completion metadata was never pushed")
	}

	// Direct mode disposes of the lane worktree and branch.
	if _, ok := repo.branches["lane/infra/wu-200"]; ok {
		t.Error("lane branch survived a direct-mode completion")
	}
	// The temp pair is gone too.
	if _, ok := repo.branches["tmp/done/wu-200"]; ok {
		t.Error("temp branch survived completion")
	}

	info, err := m.Store().Resolve("WU-200")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if info.Record.Status != types.StatusDone || info.Record.CompletedAt == nil {
		t.Errorf("record after completion = %+v", info.Record)
	}
}

func TestCompleteIdempotent(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	mustCreate(t, m, "WU-200", "infra")

	ctx := context.Background()
	if _, err := m.Claim(ctx, "WU-200", types.Lane{Name: "infra", WIPLimit: 1}, types.ModeDirect); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := m.Complete(ctx, "WU-200"); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	stamp, err := m.Store().ReadStamp("WU-200")
	if err != nil {
		t.Fatalf("ReadStamp: %v", err)
	}
	pushesAfterFirst := repo.pushCalls

	res, err := m.Complete(ctx, "WU-200")
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if !res.AlreadyComplete {
		t.Error("second completion should report AlreadyComplete")
	}
	if res.StampCreated {
		t.Error("second completion must not re-create the stamp")
	}
	if repo.pushCalls != pushesAfterFirst {
		t.Error("second completion must not push again")
	}
	stamp2, err := m.Store().ReadStamp("WU-200")
	if err != nil {
		t.Fatalf("ReadStamp: %v", err)
	}
	if !stamp2.CompletedAt.Equal(stamp.CompletedAt) {
		t.Error("stamp timestamp changed on re-completion")
	}
}

func TestCompletePreservesWorktreeInPRMode(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	mustCreate(t, m, "WU-300", "core")

	ctx := context.Background()
	if _, err := m.Claim(ctx, "WU-300", types.Lane{Name: "core", WIPLimit: 1}, types.ModePR); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := m.Complete(ctx, "WU-300"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, ok := repo.branches["lane/core/wu-300"]; !ok {
		t.Error("pr mode must preserve the lane branch for review follow-up")
	}
}

func TestDetectParallelCompletions(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)

	rec := &types.Record{ID: "WU-042", Lane: "core", Status: types.StatusInProgress}

	t.Run("no baseline skips detection", func(t *testing.T) {
		if got := m.DetectParallelCompletions(context.Background(), rec); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})

	rec.BaselineMainSHA = "aaa111"

	t.Run("unchanged trunk means no parallel work", func(t *testing.T) {
		repo.remoteSHA = "aaa111"
		if got := m.DetectParallelCompletions(context.Background(), rec); got != nil {
			t.Errorf("got %v, want nil", got)
		}
	})

	t.Run("advanced trunk lists other completed WUs", func(t *testing.T) {
		repo.remoteSHA = "bbb222"
		repo.subjects = []string{
			"WU-050: mark complete",
			"wu-050: mark complete", // dedupe across case
			"WU-042: mark complete", // current WU excluded
			"WU-007: mark complete",
			"WU-099 follow-up tweaks", // plain mention, not a completion
			"unrelated refactor",
		}
		got := m.DetectParallelCompletions(context.Background(), rec)
		want := []string{"WU-007", "WU-050"}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("got %v, want %v", got, want)
			}
		}
	})

	t.Run("fetch failure degrades to skip", func(t *testing.T) {
		repo.fetchErr = errors.New("network unreachable")
		defer func() { repo.fetchErr = nil }()
		if got := m.DetectParallelCompletions(context.Background(), rec); got != nil {
			t.Errorf("got %v, want nil on connectivity failure", got)
		}
	})
}

func TestEnsureMainUpToDate(t *testing.T) {
	t.Run("in sync", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestManager(t, repo)
		if err := m.EnsureMainUpToDate(context.Background()); err != nil {
			t.Errorf("EnsureMainUpToDate: %v", err)
		}
	})

	t.Run("diverged reports counts and fix", func(t *testing.T) {
		repo := newFakeRepo()
		repo.remoteSHA = "bbb222"
		repo.ahead, repo.behind = 1, 3
		m := newTestManager(t, repo)

		err := m.EnsureMainUpToDate(context.Background())
		var oos *TrunkOutOfSyncError
		if !errors.As(err, &oos) {
			t.Fatalf("err = %v, want TrunkOutOfSyncError", err)
		}
		if oos.Ahead != 1 || oos.Behind != 3 {
			t.Errorf("ahead/behind = %d/%d, want 1/3", oos.Ahead, oos.Behind)
		}
		if oos.FixCommand == "" {
			t.Error("fix command must be copy-paste ready, got empty")
		}
	})

	t.Run("fetch failure fails open", func(t *testing.T) {
		repo := newFakeRepo()
		repo.remoteSHA = "bbb222"
		repo.fetchErr = errors.New("could not resolve host")
		m := newTestManager(t, repo)
		if err := m.EnsureMainUpToDate(context.Background()); err != nil {
			t.Errorf("connectivity failure must not block work, got %v", err)
		}
	})
}

func TestDeleteBranchSafe(t *testing.T) {
	ctx := context.Background()

	t.Run("plain delete", func(t *testing.T) {
		repo := newFakeRepo()
		repo.branches["lane/core/wu-001"] = "abc"
		m := newTestManager(t, repo)
		if err := m.DeleteBranchSafe(ctx, repo.git("/repo"), "lane/core/wu-001"); err != nil {
			t.Fatalf("DeleteBranchSafe: %v", err)
		}
		if _, ok := repo.branches["lane/core/wu-001"]; ok {
			t.Error("branch survived")
		}
	})

	t.Run("stale metadata forces after confirming merged", func(t *testing.T) {
		repo := newFakeRepo()
		repo.branches["lane/core/wu-002"] = "abc"
		repo.staleMeta["lane/core/wu-002"] = true
		m := newTestManager(t, repo)

		// git refuses the plain delete, but ancestry confirms the content
		// already landed on the remote trunk.
		if err := m.DeleteBranchSafe(ctx, repo.git("/repo"), "lane/core/wu-002"); err != nil {
			t.Fatalf("DeleteBranchSafe: %v", err)
		}
		if _, ok := repo.branches["lane/core/wu-002"]; ok {
			t.Error("branch survived the confirmed forced delete")
		}
	})

	t.Run("refuses force when genuinely unmerged", func(t *testing.T) {
		repo := newFakeRepo()
		repo.branches["lane/core/wu-003"] = "abc"
		repo.notMerged["lane/core/wu-003"] = true
		m := newTestManager(t, repo)

		err := m.DeleteBranchSafe(ctx, repo.git("/repo"), "lane/core/wu-003")
		if err == nil {
			t.Fatal("expected refusal when the branch is genuinely unmerged")
		}
		if _, ok := repo.branches["lane/core/wu-003"]; !ok {
			t.Error("unmerged branch must not be force-deleted")
		}
	})
}

func TestCleanupTempWorktreeNoOp(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)

	res := m.CleanupTempWorktree(context.Background(), "done", "WU-999")
	if res.CleanedWorktree || res.CleanedBranch {
		t.Errorf("cleanup of a pair that never existed = %+v, want all false", res)
	}
}

func TestRecoverReconcilesAndRestamps(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	mustCreate(t, m, "WU-400", "core")

	ctx := context.Background()
	if _, err := m.Claim(ctx, "WU-400", types.Lane{Name: "core", WIPLimit: 1}, types.ModeDirect); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Simulate a crash mid-completion: a temp pair exists and the durable
	// status store advanced to done while the record still says in_progress.
	if err := repo.git(m.mainPath).WorktreeAdd(ctx, t.TempDir()+"/lw-done-x", "tmp/done/wu-400", "main"); err != nil {
		t.Fatalf("seed temp worktree: %v", err)
	}
	crashed := types.Record{
		ID: "WU-400", Lane: "core", Title: "test work",
		Status: types.StatusDone,
	}
	now := testClock()
	crashed.CompletedAt = &now
	if err := m.Store().WriteRecord(&crashed); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	reverted := crashed
	reverted.Status = types.StatusInProgress
	reverted.CompletedAt = nil
	reverted.ClaimedAt = &now
	// Write the record file back without touching the status store.
	if err := writeRecordFileOnly(m.Store(), &reverted); err != nil {
		t.Fatalf("seed divergent record: %v", err)
	}

	res, err := m.Recover(ctx, "WU-400")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !res.CleanedTemp["done"].CleanedBranch {
		t.Error("recovery did not delete the orphaned temp branch")
	}
	if !res.ReconciledRecord {
		t.Error("recovery did not reconcile the divergent record")
	}
	if !res.StampRestored {
		t.Error("recovery did not restore the missing stamp")
	}

	info, err := m.Store().Resolve("WU-400")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if info.Record.Status != types.StatusDone || !info.IsConsistent {
		t.Errorf("record after recovery = %+v, consistent=%v", info.Record, info.IsConsistent)
	}
	if !m.Store().IsStamped("WU-400") {
		t.Error("stamp missing after recovery")
	}
}

func TestRecoverRebuildsUnreadableRecord(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	mustCreate(t, m, "WU-700", "core")

	ctx := context.Background()
	if _, err := m.Claim(ctx, "WU-700", types.Lane{Name: "core", WIPLimit: 1}, types.ModeDirect); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A writer killed mid-write leaves a half-written record file. The lane
	// line survives but the rest no longer parses.
	corrupt := "id: WU-700\nlane: core\nstatus: [in_prog"
	if err := os.WriteFile(m.Store().RecordPath("WU-700"), []byte(corrupt), 0o644); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}
	if _, err := m.Store().ReadRecord("WU-700"); err == nil {
		t.Fatal("corrupted record unexpectedly parsed")
	}

	res, err := m.Recover(ctx, "WU-700")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !res.ReconciledRecord {
		t.Error("recovery did not rebuild the unreadable record")
	}

	info, err := m.Store().Resolve("WU-700")
	if err != nil {
		t.Fatalf("Resolve after recovery: %v", err)
	}
	if info.Record.Status != types.StatusInProgress || !info.IsConsistent {
		t.Errorf("rebuilt record = %+v, consistent=%v", info.Record, info.IsConsistent)
	}
	if info.Record.Lane != "core" {
		t.Errorf("lane = %q, want core salvaged from the broken file", info.Record.Lane)
	}
	if info.Record.ClaimedAt == nil {
		t.Error("rebuilt in_progress record needs a ClaimedAt")
	}
}

func TestRecoverUnknownWuStillCleans(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)

	res, err := m.Recover(context.Background(), "WU-888")
	if err != nil {
		t.Fatalf("Recover of unknown WU: %v", err)
	}
	if res.ReconciledRecord || res.StampRestored {
		t.Errorf("nothing to reconcile for an unknown WU, got %+v", res)
	}
}

func TestBlockAndUnblock(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	mustCreate(t, m, "WU-500", "core")

	ctx := context.Background()
	if err := m.Block(ctx, "WU-500", "waiting on schema review"); err == nil {
		t.Fatal("blocking a ready WU must fail")
	}

	if _, err := m.Claim(ctx, "WU-500", types.Lane{Name: "core", WIPLimit: 1}, types.ModeDirect); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := m.Block(ctx, "WU-500", ""); err == nil {
		t.Fatal("blocking without a reason must fail")
	}
	if err := m.Block(ctx, "WU-500", "waiting on schema review"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	info, _ := m.Store().Resolve("WU-500")
	if info.Record.Status != types.StatusBlocked || info.Record.BlockedReason == "" {
		t.Errorf("blocked record = %+v", info.Record)
	}

	if err := m.Unblock(ctx, "WU-500"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	info, _ = m.Store().Resolve("WU-500")
	if info.Record.Status != types.StatusInProgress || info.Record.BlockedReason != "" {
		t.Errorf("unblocked record = %+v", info.Record)
	}
}
