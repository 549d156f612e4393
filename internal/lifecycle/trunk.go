package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/types"
)

// TrunkOutOfSyncError means the local trunk diverged from the remote.
// FixCommand is copy-paste ready.
type TrunkOutOfSyncError struct {
	Ahead      int
	Behind     int
	FixCommand string
}

func (e *TrunkOutOfSyncError) Error() string {
	return fmt.Sprintf("local trunk is %d ahead / %d behind the remote; run: %s",
		e.Ahead, e.Behind, e.FixCommand)
}

// EnsureMainUpToDate verifies the local trunk matches the remote before an
// operation that builds on it. Divergence aborts the caller with counts
// and a fix command. Connectivity failures fail open: blocking all work on
// a transient network issue would be disproportionate.
func (m *Manager) EnsureMainUpToDate(ctx context.Context) error {
	g := m.newGit(m.mainPath)

	if err := g.Fetch(ctx, m.remote, m.trunk); err != nil {
		debug.Warnf("could not fetch %s, skipping trunk freshness check: %v\n", m.remoteTrunk(), err)
		return nil
	}

	local, err := g.RevParse(ctx, m.trunk)
	if err != nil {
		debug.Warnf("could not resolve local trunk, skipping freshness check: %v\n", err)
		return nil
	}
	remote, err := g.RevParse(ctx, m.remoteTrunk())
	if err != nil {
		debug.Warnf("could not resolve %s, skipping freshness check: %v\n", m.remoteTrunk(), err)
		return nil
	}
	if local == remote {
		return nil
	}

	ahead, behind, err := g.AheadBehind(ctx, m.trunk, m.remoteTrunk())
	if err != nil {
		debug.Warnf("could not count trunk divergence, skipping freshness check: %v\n", err)
		return nil
	}
	return &TrunkOutOfSyncError{
		Ahead:      ahead,
		Behind:     behind,
		FixCommand: fmt.Sprintf("git -C %s pull --rebase %s %s", m.mainPath, m.remote, m.trunk),
	}
}

// completionMarkerPattern matches the exact subject shape publishCompletion
// writes. Ordinary commits that merely mention a WU id are not completions.
var completionMarkerPattern = regexp.MustCompile(`(?i)^(wu-\d+): mark complete$`)

// DetectParallelCompletions reports other WUs completed on trunk since
// this WU's baseline was captured at claim time. The return is advisory: a
// non-empty list means an upcoming rebase may hit conflicts, never that
// completion must stop. Missing baseline (legacy records) and connectivity
// failures both degrade to "no detection".
func (m *Manager) DetectParallelCompletions(ctx context.Context, rec *types.Record) []string {
	if rec.BaselineMainSHA == "" {
		debug.Logf("lifecycle: %s has no baseline trunk SHA, skipping parallel-completion detection\n", rec.ID)
		return nil
	}

	g := m.newGit(m.mainPath)
	if err := g.Fetch(ctx, m.remote, m.trunk); err != nil {
		debug.Warnf("could not fetch %s, skipping parallel-completion detection: %v\n", m.remoteTrunk(), err)
		return nil
	}
	head, err := g.RevParse(ctx, m.remoteTrunk())
	if err != nil {
		debug.Warnf("could not resolve %s, skipping parallel-completion detection: %v\n", m.remoteTrunk(), err)
		return nil
	}
	if head == rec.BaselineMainSHA {
		return nil
	}

	subjects, err := g.LogSubjects(ctx, rec.BaselineMainSHA, head)
	if err != nil {
		debug.Warnf("could not read trunk log, skipping parallel-completion detection: %v\n", err)
		return nil
	}

	seen := make(map[string]bool)
	var others []string
	for _, subject := range subjects {
		match := completionMarkerPattern.FindStringSubmatch(strings.TrimSpace(subject))
		if match == nil {
			continue
		}
		id := strings.ToUpper(match[1])
		if id == rec.ID || seen[id] {
			continue
		}
		seen[id] = true
		others = append(others, id)
	}
	sort.Strings(others)
	return others
}

// IsBranchAlreadyMerged reports whether the branch tip is already
// reachable from the remote trunk head, short-circuiting redundant
// merge/push attempts.
func (m *Manager) IsBranchAlreadyMerged(ctx context.Context, g GitOps, branch string) (bool, error) {
	return g.IsAncestor(ctx, branch, m.remoteTrunk())
}

// DeleteBranchSafe deletes a local branch, non-forced first. When git
// refuses because the branch looks not fully merged, the content may still
// be safe on the remote trunk with only local ref metadata disagreeing, so
// the delete retries with force, but only after independently confirming
// the branch tip is already merged.
func (m *Manager) DeleteBranchSafe(ctx context.Context, g GitOps, branch string) error {
	err := g.DeleteBranch(ctx, branch, false)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "not fully merged") {
		return err
	}
	merged, mergeErr := m.IsBranchAlreadyMerged(ctx, g, branch)
	if mergeErr != nil || !merged {
		return fmt.Errorf("branch %s is not merged into %s, refusing forced delete: %w",
			branch, m.remoteTrunk(), err)
	}
	return g.DeleteBranch(ctx, branch, true)
}
