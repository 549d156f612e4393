package lifecycle

import (
	"context"
	"fmt"
	"os"

	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/git"
	"github.com/steveyegge/laneway/internal/types"
)

// CleanupResult reports what a temp worktree/branch cleanup actually
// removed. Both false means there was nothing to clean.
type CleanupResult struct {
	CleanedWorktree bool
	CleanedBranch   bool
}

// WithTempWorktree runs fn inside a short-lived worktree on a temporary
// branch cut from trunk. Metadata mutations go through here so an agent's
// long-lived worktree is never disturbed. Any orphan left by a crashed
// prior run of the same operation+WU pair is cleaned up first, and the
// pair is torn down again when fn returns, success or failure.
func (m *Manager) WithTempWorktree(ctx context.Context, operation, wuID string, fn func(dir string, g GitOps) error) error {
	tempBranch := types.TempBranch(operation, wuID)
	main := m.newGit(m.mainPath)

	m.cleanupTemp(ctx, main, tempBranch)

	dir, err := os.MkdirTemp("", "lw-"+operation+"-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	// MkdirTemp creates the directory but worktree add needs it absent.
	os.Remove(dir)

	if err := main.WorktreeAdd(ctx, dir, tempBranch, m.trunk); err != nil {
		return fmt.Errorf("create temp worktree for %s: %w", wuID, err)
	}
	defer m.cleanupTemp(ctx, main, tempBranch)

	return fn(dir, m.newGit(dir))
}

// CleanupTempWorktree removes an orphaned temp worktree/branch pair for
// one operation+WU. Partial cleanup is acceptable and total failure is
// not fatal: every step tolerates the others failing, and cleaning a pair
// that never existed is a no-op.
func (m *Manager) CleanupTempWorktree(ctx context.Context, operation, wuID string) CleanupResult {
	return m.cleanupTemp(ctx, m.newGit(m.mainPath), types.TempBranch(operation, wuID))
}

func (m *Manager) cleanupTemp(ctx context.Context, main GitOps, tempBranch string) CleanupResult {
	var result CleanupResult

	worktrees, err := main.WorktreeList(ctx)
	if err != nil {
		debug.Logf("lifecycle: worktree list failed during cleanup: %v\n", err)
		worktrees = nil
	}
	for _, wt := range worktrees {
		if wt.Branch != tempBranch {
			continue
		}
		if err := main.WorktreeRemove(ctx, wt.Path, true); err != nil {
			// The directory may have been deleted out-of-band; git then
			// refuses, so fall back to direct filesystem removal.
			debug.Logf("lifecycle: worktree remove %s failed, deleting directly: %v\n", wt.Path, err)
			if rmErr := git.RemoveDir(wt.Path); rmErr != nil {
				debug.Logf("lifecycle: direct removal of %s failed: %v\n", wt.Path, rmErr)
				continue
			}
			if err := main.WorktreePrune(ctx); err != nil {
				debug.Logf("lifecycle: worktree prune failed: %v\n", err)
			}
		}
		result.CleanedWorktree = true
	}

	// Branch deletion is always attempted, independent of how the worktree
	// removal went.
	if _, err := main.RevParse(ctx, "refs/heads/"+tempBranch); err == nil {
		if err := main.DeleteBranch(ctx, tempBranch, true); err != nil {
			debug.Logf("lifecycle: delete branch %s failed: %v\n", tempBranch, err)
		} else {
			result.CleanedBranch = true
		}
	}

	return result
}
