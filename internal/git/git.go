// Package git wraps the git CLI for repository state reads and the small
// set of mutations the lifecycle manager performs. Everything shells out
// via exec.CommandContext so callers can bound network operations.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/steveyegge/laneway/internal/types"
)

// Git runs git commands against one working directory.
type Git struct {
	dir string
}

// New creates a Git bound to the given working directory.
func New(dir string) *Git {
	return &Git{dir: dir}
}

// Dir returns the working directory this Git operates on.
func (g *Git) Dir() string {
	return g.dir
}

// run executes git with the given args and returns trimmed stdout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// runCombined executes git and returns combined output; errors include the
// output since git writes diagnostics to stderr.
func (g *Git) runCombined(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// RepoRoot returns the top-level directory of the working tree.
func (g *Git) RepoRoot(ctx context.Context) (string, error) {
	root, err := g.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return root, nil
}

// IsWorktree reports whether dir is a linked worktree rather than the main
// checkout. Determined by comparing --git-dir and --git-common-dir, which
// differ only inside a linked worktree.
func (g *Git) IsWorktree(ctx context.Context) bool {
	gitDir, err1 := g.run(ctx, "rev-parse", "--git-dir")
	commonDir, err2 := g.run(ctx, "rev-parse", "--git-common-dir")
	if err1 != nil || err2 != nil {
		return false
	}
	absGit, err1 := filepath.Abs(filepath.Join(g.dir, gitDir))
	absCommon, err2 := filepath.Abs(filepath.Join(g.dir, commonDir))
	if err1 != nil || err2 != nil {
		return false
	}
	return absGit != absCommon
}

// MainCheckoutPath returns the main repository root. Inside a linked
// worktree this is the directory that owns the common git dir; in the main
// checkout it is the regular repo root.
func (g *Git) MainCheckoutPath(ctx context.Context) (string, error) {
	commonDir, err := g.run(ctx, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(g.dir, commonDir)
	}
	abs, err := filepath.Abs(commonDir)
	if err != nil {
		return "", err
	}
	return filepath.Dir(abs), nil
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// ReadState snapshots the repository state for this checkout. Failures
// populate ReadError rather than returning an error: callers must treat an
// unreadable checkout as conservatively not clean.
func (g *Git) ReadState(ctx context.Context) types.RepoState {
	var st types.RepoState

	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		st.ReadError = err
		return st
	}
	st.Branch = branch
	st.IsDetached = branch == "HEAD"

	status, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		st.ReadError = err
		return st
	}
	applyPorcelain(&st, status)

	// Ahead/behind relative to the tracked upstream. A missing upstream is
	// normal for fresh branches, not a read error.
	tracking, err := g.run(ctx, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}")
	if err == nil && tracking != "" {
		st.TrackingRef = tracking
		counts, err := g.run(ctx, "rev-list", "--left-right", "--count", tracking+"...HEAD")
		if err == nil {
			parts := strings.Fields(counts)
			if len(parts) == 2 {
				st.BehindCount, _ = strconv.Atoi(parts[0])
				st.AheadCount, _ = strconv.Atoi(parts[1])
			}
		}
	}

	return st
}

// applyPorcelain folds `git status --porcelain` output into a RepoState.
// Untracked entries are ignored: IsDirty means uncommitted changes to
// tracked files.
func applyPorcelain(st *types.RepoState, status string) {
	for _, line := range strings.Split(status, "\n") {
		if len(line) < 3 {
			continue
		}
		index, work := line[0], line[1]
		if index == '?' {
			continue
		}
		if index != ' ' {
			st.HasStaged = true
		}
		if work != ' ' {
			st.IsDirty = true
		}
		st.ModifiedFiles = append(st.ModifiedFiles, strings.TrimSpace(line[2:]))
	}
}

// StagedFiles returns the paths currently staged for commit.
func (g *Git) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// RevParse resolves a ref to its SHA.
func (g *Git) RevParse(ctx context.Context, ref string) (string, error) {
	return g.run(ctx, "rev-parse", ref)
}

// Fetch updates the named ref from the remote.
func (g *Git) Fetch(ctx context.Context, remote string, refs ...string) error {
	_, err := g.runCombined(ctx, append([]string{"fetch", remote}, refs...)...)
	return err
}

// Push pushes a refspec to the remote. force adds --force-with-lease, the
// safer force that still refuses to clobber refs updated since our last
// fetch.
func (g *Git) Push(ctx context.Context, remote, refspec string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force-with-lease")
	}
	args = append(args, remote, refspec)
	_, err := g.runCombined(ctx, args...)
	return err
}

// Rebase rebases the current branch onto the given upstream ref.
func (g *Git) Rebase(ctx context.Context, onto string) error {
	_, err := g.runCombined(ctx, "rebase", onto)
	return err
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (g *Git) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", g.dir, "merge-base", "--is-ancestor", ancestor, descendant)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git merge-base --is-ancestor: %w", err)
}

// AheadBehind returns how many commits local is ahead of and behind remote.
func (g *Git) AheadBehind(ctx context.Context, local, remote string) (ahead, behind int, err error) {
	out, err := g.run(ctx, "rev-list", "--left-right", "--count", remote+"..."+local)
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Fields(out)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	behind, _ = strconv.Atoi(parts[0])
	ahead, _ = strconv.Atoi(parts[1])
	return ahead, behind, nil
}

// LogSubjects returns commit subjects in base..head order, newest first.
func (g *Git) LogSubjects(ctx context.Context, base, head string) ([]string, error) {
	out, err := g.run(ctx, "log", "--format=%s", base+".."+head)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DeleteBranch deletes a local branch. Without force git refuses branches
// it considers not fully merged.
func (g *Git) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.runCombined(ctx, "branch", flag, name)
	return err
}

// Worktree is one entry from `git worktree list`.
type Worktree struct {
	Path   string
	Branch string // empty for a detached or bare entry
}

// WorktreeList returns all registered worktrees, main checkout included.
func (g *Git) WorktreeList(ctx context.Context) ([]Worktree, error) {
	out, err := g.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []Worktree {
	var result []Worktree
	var cur Worktree
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur.Path != "" {
				result = append(result, cur)
			}
			cur = Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if cur.Path != "" {
		result = append(result, cur)
	}
	return result
}

// WorktreeAdd creates a worktree at path. When newBranch is non-empty a
// branch of that name is created at startPoint; otherwise branch is
// checked out as-is.
func (g *Git) WorktreeAdd(ctx context.Context, path, newBranch, startPoint string) error {
	args := []string{"worktree", "add"}
	if newBranch != "" {
		args = append(args, "-b", newBranch, path)
		if startPoint != "" {
			args = append(args, startPoint)
		}
	} else {
		args = append(args, path)
		if startPoint != "" {
			args = append(args, startPoint)
		}
	}
	_, err := g.runCombined(ctx, args...)
	return err
}

// WorktreeRemove removes a registered worktree via git's own bookkeeping.
func (g *Git) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.runCombined(ctx, args...)
	return err
}

// WorktreePrune drops stale worktree bookkeeping after out-of-band deletes.
func (g *Git) WorktreePrune(ctx context.Context) error {
	_, err := g.runCombined(ctx, "worktree", "prune")
	return err
}

// Add stages the given paths.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	_, err := g.runCombined(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

// Commit records staged changes. --no-verify: the micro-worktree commits
// laneway's own metadata and must not trip project pre-commit hooks.
func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.runCombined(ctx, "commit", "--no-verify", "-m", message)
	return err
}

// RemoveDir force-deletes a directory tree. Fallback for worktrees whose
// directories were deleted out-of-band and can't be removed through git.
func RemoveDir(path string) error {
	return os.RemoveAll(path)
}
