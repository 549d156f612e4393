package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/git"
	"github.com/steveyegge/laneway/internal/lockfile"
	"github.com/steveyegge/laneway/internal/risk"
	"github.com/steveyegge/laneway/internal/types"
	"github.com/steveyegge/laneway/internal/wstate"
)

// WrongStatusError means an operation found the WU in a status it cannot
// act on.
type WrongStatusError struct {
	ID   string
	Want types.Status
	Got  types.Status
}

func (e *WrongStatusError) Error() string {
	return fmt.Sprintf("%s is %s, not %s", e.ID, e.Got, e.Want)
}

// Create registers a new WU in ready state.
func (m *Manager) Create(ctx context.Context, id, lane, title string, codePaths, dependencies []string) (*types.Record, error) {
	id = types.NormalizeID(id)
	if err := types.ValidateID(id); err != nil {
		return nil, err
	}
	if _, err := m.store.ReadRecord(id); err == nil {
		return nil, fmt.Errorf("%s already exists", id)
	} else if !errors.Is(err, types.ErrWuNotFound) {
		return nil, err
	}

	rec := &types.Record{
		ID:           id,
		Status:       types.StatusReady,
		Lane:         lane,
		Title:        title,
		CodePaths:    codePaths,
		Dependencies: dependencies,
	}
	if err := m.store.WriteRecord(rec); err != nil {
		return nil, err
	}
	if err := m.store.AppendEvent(id, wstate.EventCreated, map[string]string{"lane": lane}); err != nil {
		debug.Logf("lifecycle: event append failed for %s: %v\n", id, err)
	}
	return rec, nil
}

// ClaimResult reports a successful claim.
type ClaimResult struct {
	Record       *types.Record
	Branch       string
	WorktreePath string
	Warnings     []string
}

// Claim transitions a ready WU to in_progress for the calling agent:
// admission against the lane's WIP limit, trunk freshness, baseline SHA
// capture, then branch + worktree creation. Admission is a logical
// capacity check rather than an atomic reservation, so the claim is
// re-validated afterward and rolled back if two agents slipped through
// together.
func (m *Manager) Claim(ctx context.Context, id string, lane types.Lane, mode types.ClaimedMode) (*ClaimResult, error) {
	id = types.NormalizeID(id)
	info, err := m.store.Resolve(id)
	if err != nil {
		return nil, err
	}
	if !info.IsConsistent {
		return nil, &types.StateInconsistentError{ID: id, Reason: info.InconsistencyReason}
	}
	rec := &info.Record
	if rec.Status != types.StatusReady {
		return nil, &WrongStatusError{ID: id, Want: types.StatusReady, Got: rec.Status}
	}
	if lane.Name != rec.Lane {
		return nil, fmt.Errorf("%s belongs to lane %q, not %q", id, rec.Lane, lane.Name)
	}
	if mode == "" {
		mode = types.ModeDirect
	}

	if err := m.store.CheckLaneAdmission(lane, id); err != nil {
		return nil, err
	}
	if err := m.EnsureMainUpToDate(ctx); err != nil {
		return nil, err
	}

	g := m.newGit(m.mainPath)
	baseline, err := g.RevParse(ctx, m.trunk)
	if err != nil {
		return nil, fmt.Errorf("resolve trunk baseline: %w", err)
	}

	branch := types.LaneBranch(rec.Lane, id)
	wtPath := types.WorktreePath(m.mainPath, rec.Lane, id)
	if err := g.WorktreeAdd(ctx, wtPath, branch, m.trunk); err != nil {
		return nil, fmt.Errorf("create worktree for %s: %w", id, err)
	}

	now := m.now()
	claimed := *rec
	claimed.Status = types.StatusInProgress
	claimed.ClaimedAt = &now
	claimed.ClaimedMode = mode
	claimed.BaselineMainSHA = baseline
	if err := m.store.WriteRecord(&claimed); err != nil {
		m.rollbackClaim(ctx, g, rec, branch, wtPath)
		return nil, err
	}

	// The admission check reads state, it does not reserve. Catch the
	// double-admission race here and back out as the later arrival.
	if err := m.store.RevalidateLaneAdmission(lane, id); err != nil {
		m.rollbackClaim(ctx, g, rec, branch, wtPath)
		return nil, err
	}

	if err := m.store.AppendEvent(id, wstate.EventClaimed, map[string]string{
		"lane":     rec.Lane,
		"mode":     string(mode),
		"baseline": baseline,
	}); err != nil {
		debug.Logf("lifecycle: event append failed for %s: %v\n", id, err)
	}

	return &ClaimResult{Record: &claimed, Branch: branch, WorktreePath: wtPath}, nil
}

func (m *Manager) rollbackClaim(ctx context.Context, g GitOps, original *types.Record, branch, wtPath string) {
	if err := g.WorktreeRemove(ctx, wtPath, true); err != nil {
		debug.Logf("lifecycle: claim rollback: worktree remove failed: %v\n", err)
		if rmErr := git.RemoveDir(wtPath); rmErr == nil {
			if err := g.WorktreePrune(ctx); err != nil {
				debug.Logf("lifecycle: claim rollback: prune failed: %v\n", err)
			}
		}
	}
	if err := g.DeleteBranch(ctx, branch, true); err != nil {
		debug.Logf("lifecycle: claim rollback: branch delete failed: %v\n", err)
	}
	if err := m.store.WriteRecord(original); err != nil {
		debug.Logf("lifecycle: claim rollback: record restore failed: %v\n", err)
	}
}

// CompleteResult reports a completion.
type CompleteResult struct {
	AlreadyComplete bool
	StampCreated    bool
	// ParallelCompletions lists other WU ids that landed on trunk since
	// this WU's baseline. Advisory: a rebase may hit conflicts.
	ParallelCompletions []string
	Warnings            []string
}

// Complete transitions an in_progress WU to done and publishes its
// metadata to trunk through a short-lived worktree, so the agent's own
// worktree is untouched. Re-completing an already-stamped WU is a no-op.
func (m *Manager) Complete(ctx context.Context, id string) (*CompleteResult, error) {
	id = types.NormalizeID(id)
	lock, err := lockfile.Acquire(m.store.StateDir(), id, "complete")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	info, err := m.store.Resolve(id)
	if err != nil {
		return nil, err
	}
	if !info.IsConsistent {
		return nil, &types.StateInconsistentError{ID: id, Reason: info.InconsistencyReason}
	}
	rec := &info.Record

	if rec.Status == types.StatusDone && m.store.IsStamped(id) {
		return &CompleteResult{AlreadyComplete: true}, nil
	}
	if rec.Status != types.StatusInProgress && rec.Status != types.StatusDone {
		return nil, &WrongStatusError{ID: id, Want: types.StatusInProgress, Got: rec.Status}
	}

	result := &CompleteResult{
		ParallelCompletions: m.DetectParallelCompletions(ctx, rec),
	}

	now := m.now()
	done := *rec
	done.Status = types.StatusDone
	done.CompletedAt = &now

	created, err := m.store.WriteStamp(id, now)
	if err != nil {
		return nil, err
	}
	result.StampCreated = created
	if err := m.store.WriteRecord(&done); err != nil {
		return nil, err
	}

	docsOnly := risk.Classify(done.CodePaths).Tier == risk.TierDocsOnly
	if err := m.publishCompletion(ctx, &done, docsOnly, result); err != nil {
		return nil, err
	}

	if !done.ClaimedMode.PreservesWorktree() {
		m.disposeWorktree(ctx, &done)
	}

	if err := m.store.AppendEvent(id, wstate.EventCompleted, nil); err != nil {
		debug.Logf("lifecycle: event append failed for %s: %v\n", id, err)
	}
	return result, nil
}

// publishCompletion writes the WU's terminal metadata into a temp
// worktree, validates what got staged, commits with the completion marker
// subject, and pushes to trunk with retry.
func (m *Manager) publishCompletion(ctx context.Context, rec *types.Record, docsOnly bool, result *CompleteResult) error {
	return m.WithTempWorktree(ctx, "done", rec.ID, func(dir string, wg GitOps) error {
		tempStore := wstate.NewStore(dir)
		if err := tempStore.WriteRecord(rec); err != nil {
			return err
		}
		if _, err := tempStore.WriteStamp(rec.ID, *rec.CompletedAt); err != nil {
			return err
		}
		if err := tempStore.AppendEvent(rec.ID, wstate.EventCompleted, nil); err != nil {
			debug.Logf("lifecycle: event append in temp worktree failed: %v\n", err)
		}

		paths := []string{
			tempStore.RecordPath(rec.ID),
			tempStore.StampPath(rec.ID),
			tempStore.StatusFilePath(),
			tempStore.EventLogPath(rec.ID),
		}
		var existing []string
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				existing = append(existing, p)
			}
		}
		if err := wg.Add(ctx, existing...); err != nil {
			return fmt.Errorf("stage completion metadata: %w", err)
		}

		warning, err := m.ValidateStagedFiles(ctx, wg, rec, docsOnly)
		if err != nil {
			return err
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}

		if err := wg.Commit(ctx, fmt.Sprintf("%s: mark complete", rec.ID)); err != nil {
			return fmt.Errorf("commit completion metadata: %w", err)
		}
		return m.PushRefspecWithRetry(ctx, wg,
			types.TempBranch("done", rec.ID), m.trunk, "complete "+rec.ID)
	})
}

func (m *Manager) disposeWorktree(ctx context.Context, rec *types.Record) {
	g := m.newGit(m.mainPath)
	wtPath := types.WorktreePath(m.mainPath, rec.Lane, rec.ID)
	if _, err := os.Stat(wtPath); err == nil {
		if err := g.WorktreeRemove(ctx, wtPath, true); err != nil {
			debug.Logf("lifecycle: worktree remove %s failed: %v\n", wtPath, err)
		}
	}
	branch := types.LaneBranch(rec.Lane, rec.ID)
	if _, err := g.RevParse(ctx, "refs/heads/"+branch); err == nil {
		if err := m.DeleteBranchSafe(ctx, g, branch); err != nil {
			debug.Logf("lifecycle: branch delete %s failed: %v\n", branch, err)
		}
	}
}

// Block transitions an in_progress WU to blocked. A reason is required;
// it is what the next agent reads first.
func (m *Manager) Block(ctx context.Context, id, reason string) error {
	id = types.NormalizeID(id)
	if reason == "" {
		return fmt.Errorf("%s: a blocked reason is required", id)
	}
	info, err := m.store.Resolve(id)
	if err != nil {
		return err
	}
	rec := &info.Record
	if rec.Status != types.StatusInProgress {
		return &WrongStatusError{ID: id, Want: types.StatusInProgress, Got: rec.Status}
	}
	rec.Status = types.StatusBlocked
	rec.BlockedReason = reason
	if err := m.store.WriteRecord(rec); err != nil {
		return err
	}
	if err := m.store.AppendEvent(id, wstate.EventBlocked, map[string]string{"reason": reason}); err != nil {
		debug.Logf("lifecycle: event append failed for %s: %v\n", id, err)
	}
	return nil
}

// Unblock returns a blocked WU to in_progress.
func (m *Manager) Unblock(ctx context.Context, id string) error {
	id = types.NormalizeID(id)
	info, err := m.store.Resolve(id)
	if err != nil {
		return err
	}
	rec := &info.Record
	if rec.Status != types.StatusBlocked {
		return &WrongStatusError{ID: id, Want: types.StatusBlocked, Got: rec.Status}
	}
	rec.Status = types.StatusInProgress
	rec.BlockedReason = ""
	if err := m.store.WriteRecord(rec); err != nil {
		return err
	}
	if err := m.store.AppendEvent(id, wstate.EventUnblocked, nil); err != nil {
		debug.Logf("lifecycle: event append failed for %s: %v\n", id, err)
	}
	return nil
}

// RecoverResult reports what a recovery sweep repaired.
type RecoverResult struct {
	CleanedTemp      map[string]CleanupResult
	ReconciledRecord bool
	StampRestored    bool
	DisposedWorktree bool
}

// Recover converges a WU after a crash: orphaned temp worktree/branch
// pairs are removed, a record that disagrees with the durable status
// store is rewritten with the store's verdict, and a done WU missing its
// stamp gets one. Safe to run repeatedly; runs under the same per-WU lock
// as completion so the two sweeps cannot interleave.
func (m *Manager) Recover(ctx context.Context, id string) (*RecoverResult, error) {
	id = types.NormalizeID(id)
	lock, err := lockfile.Acquire(m.store.StateDir(), id, "recover")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	result := &RecoverResult{CleanedTemp: make(map[string]CleanupResult)}
	for _, op := range []string{"done", "claim"} {
		result.CleanedTemp[op] = m.CleanupTempWorktree(ctx, op, id)
	}

	var rec types.Record
	info, err := m.store.Resolve(id)
	switch {
	case err == nil:
		rec = info.Record
		if !info.IsConsistent {
			// Resolve already took the store's status as authoritative; make
			// the record variant well-formed under it and persist.
			m.reconcileRecord(&rec)
			if err := m.store.WriteRecord(&rec); err != nil {
				return nil, err
			}
			result.ReconciledRecord = true
		}
	case errors.Is(err, types.ErrWuNotFound):
		return result, nil
	default:
		// The record file exists but cannot be read, typically a writer
		// killed mid-write. Rebuild it from the durable status store and
		// stamp so the WU stays recoverable by re-running from scratch.
		rebuilt, rbErr := m.rebuildRecord(id)
		if rbErr != nil {
			return nil, fmt.Errorf("record for %s is unreadable and could not be rebuilt: %w", id, rbErr)
		}
		rec = *rebuilt
		if err := m.store.WriteRecord(&rec); err != nil {
			return nil, err
		}
		result.ReconciledRecord = true
	}

	if rec.Status == types.StatusDone && !m.store.IsStamped(id) {
		if _, err := m.store.WriteStamp(id, *rec.CompletedAt); err != nil {
			return nil, err
		}
		result.StampRestored = true
	}

	if rec.Status == types.StatusDone && !rec.ClaimedMode.PreservesWorktree() {
		wtPath := types.WorktreePath(m.mainPath, rec.Lane, rec.ID)
		if _, err := os.Stat(wtPath); err == nil {
			m.disposeWorktree(ctx, &rec)
			result.DisposedWorktree = true
		}
	}

	if err := m.store.AppendEvent(id, wstate.EventRecovered, nil); err != nil {
		debug.Logf("lifecycle: event append failed for %s: %v\n", id, err)
	}
	return result, nil
}

var laneLinePattern = regexp.MustCompile(`(?m)^lane:[ \t]*"?([^"\r\n]+?)"?[ \t]*$`)

// rebuildRecord reconstructs a minimal valid record for a WU whose record
// file cannot be parsed. The durable status store (or, failing that, an
// existing stamp) supplies the status; the lane is salvaged from the
// broken file when its line survived.
func (m *Manager) rebuildRecord(id string) (*types.Record, error) {
	status, ok, err := m.store.StoreStatus(id)
	if !ok || err != nil {
		if m.store.IsStamped(id) {
			status = types.StatusDone
		} else if err != nil {
			return nil, err
		} else {
			return nil, fmt.Errorf("%s has no status store entry and no stamp", id)
		}
	}
	rec := &types.Record{ID: id, Status: status, Lane: salvageLane(m.store.RecordPath(id))}
	if rec.Lane == "" {
		rec.Lane = "unknown"
	}
	m.reconcileRecord(rec)
	return rec, nil
}

func salvageLane(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if match := laneLinePattern.FindSubmatch(data); match != nil {
		return strings.TrimSpace(string(match[1]))
	}
	return ""
}

// reconcileRecord forces the record's fields to satisfy the variant
// contract of its (store-assigned) status.
func (m *Manager) reconcileRecord(rec *types.Record) {
	switch rec.Status {
	case types.StatusReady:
		rec.ClaimedAt = nil
		rec.BlockedReason = ""
		rec.ClaimedMode = ""
		rec.BaselineMainSHA = ""
	case types.StatusInProgress:
		rec.BlockedReason = ""
		if rec.ClaimedAt == nil {
			now := m.now()
			rec.ClaimedAt = &now
		}
	case types.StatusBlocked:
		if rec.BlockedReason == "" {
			rec.BlockedReason = "unknown (restored during recovery)"
		}
	case types.StatusDone:
		if rec.CompletedAt == nil {
			completedAt := m.now()
			if stamp, err := m.store.ReadStamp(rec.ID); err == nil {
				completedAt = stamp.CompletedAt
			}
			rec.CompletedAt = &completedAt
		}
	}
}
