package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/steveyegge/laneway/internal/git"
	"github.com/steveyegge/laneway/internal/types"
)

// fakeRepo is shared git state across every checkout dir a test touches.
type fakeRepo struct {
	mu sync.Mutex

	trunkSHA  string
	remoteSHA string

	branches  map[string]string // name -> sha
	worktrees []git.Worktree
	notMerged map[string]bool
	// staleMeta marks branches whose local ref metadata disagrees with the
	// remote: plain delete refuses even though the content is merged.
	staleMeta map[string]bool
	subjects  []string // trunk log between baseline and remote head

	fetchErr  error
	rebaseErr error
	pushErrs  []error // consumed per push; empty means success
	ahead     int
	behind    int

	fetchCalls  int
	rebaseCalls int
	pushCalls   int
	forcePushes []bool

	staged map[string][]string // checkout dir -> repo-relative staged paths
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		trunkSHA:  "aaa111",
		remoteSHA: "aaa111",
		branches:  make(map[string]string),
		notMerged: make(map[string]bool),
		staleMeta: make(map[string]bool),
		staged:    make(map[string][]string),
	}
}

func (r *fakeRepo) git(dir string) GitOps { return &fakeGit{dir: dir, repo: r} }

type fakeGit struct {
	dir  string
	repo *fakeRepo
}

func (g *fakeGit) Dir() string { return g.dir }

func (g *fakeGit) ReadState(context.Context) types.RepoState {
	return types.RepoState{Branch: "main"}
}

func (g *fakeGit) CurrentBranch(context.Context) (string, error) { return "main", nil }

func (g *fakeGit) RevParse(_ context.Context, ref string) (string, error) {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	switch {
	case ref == "main":
		return g.repo.trunkSHA, nil
	case ref == "origin/main":
		return g.repo.remoteSHA, nil
	case strings.HasPrefix(ref, "refs/heads/"):
		name := strings.TrimPrefix(ref, "refs/heads/")
		if sha, ok := g.repo.branches[name]; ok {
			return sha, nil
		}
		return "", errors.New("unknown ref " + ref)
	}
	return "", errors.New("unknown ref " + ref)
}

func (g *fakeGit) Fetch(context.Context, string, ...string) error {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	g.repo.fetchCalls++
	return g.repo.fetchErr
}

func (g *fakeGit) Push(_ context.Context, _, _ string, force bool) error {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	g.repo.pushCalls++
	g.repo.forcePushes = append(g.repo.forcePushes, force)
	if len(g.repo.pushErrs) == 0 {
		return nil
	}
	err := g.repo.pushErrs[0]
	g.repo.pushErrs = g.repo.pushErrs[1:]
	return err
}

func (g *fakeGit) Rebase(context.Context, string) error {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	g.repo.rebaseCalls++
	return g.repo.rebaseErr
}

func (g *fakeGit) IsAncestor(_ context.Context, ancestor, _ string) (bool, error) {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	return !g.repo.notMerged[ancestor], nil
}

func (g *fakeGit) AheadBehind(context.Context, string, string) (int, int, error) {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	return g.repo.ahead, g.repo.behind, nil
}

func (g *fakeGit) LogSubjects(context.Context, string, string) ([]string, error) {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	return g.repo.subjects, nil
}

func (g *fakeGit) DeleteBranch(_ context.Context, name string, force bool) error {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	if _, ok := g.repo.branches[name]; !ok {
		return errors.New("branch not found: " + name)
	}
	if (g.repo.notMerged[name] || g.repo.staleMeta[name]) && !force {
		return errors.New("the branch '" + name + "' is not fully merged")
	}
	delete(g.repo.branches, name)
	return nil
}

func (g *fakeGit) WorktreeList(context.Context) ([]git.Worktree, error) {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	return append([]git.Worktree(nil), g.repo.worktrees...), nil
}

func (g *fakeGit) WorktreeAdd(_ context.Context, path, newBranch, _ string) error {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	if newBranch != "" {
		g.repo.branches[newBranch] = g.repo.trunkSHA
	}
	g.repo.worktrees = append(g.repo.worktrees, git.Worktree{Path: path, Branch: newBranch})
	return os.MkdirAll(path, 0o755)
}

func (g *fakeGit) WorktreeRemove(_ context.Context, path string, _ bool) error {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	kept := g.repo.worktrees[:0]
	for _, wt := range g.repo.worktrees {
		if wt.Path != path {
			kept = append(kept, wt)
		}
	}
	g.repo.worktrees = kept
	return os.RemoveAll(path)
}

func (g *fakeGit) WorktreePrune(context.Context) error { return nil }

func (g *fakeGit) Add(_ context.Context, paths ...string) error {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	for _, p := range paths {
		rel, err := filepath.Rel(g.dir, p)
		if err != nil {
			rel = p
		}
		g.repo.staged[g.dir] = append(g.repo.staged[g.dir], filepath.ToSlash(rel))
	}
	return nil
}

func (g *fakeGit) Commit(context.Context, string) error { return nil }

func (g *fakeGit) StagedFiles(context.Context) ([]string, error) {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	return append([]string(nil), g.repo.staged[g.dir]...), nil
}
