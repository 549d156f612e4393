// Package resolver assembles the composite context snapshot every
// legality decision runs against: where the caller stands, what git says,
// what the WU record says, and whether a session owns the WU. Pure
// read/assemble with no side effects on repo state.
package resolver

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/laneway/internal/git"
	"github.com/steveyegge/laneway/internal/types"
	"github.com/steveyegge/laneway/internal/wstate"
)

// GitReader reads git state for an arbitrary directory. Injected so tests
// can resolve contexts without a real repository.
type GitReader interface {
	ReadState(ctx context.Context, dir string) types.RepoState
	IsWorktree(ctx context.Context, dir string) bool
	RepoRoot(ctx context.Context, dir string) (string, error)
	MainCheckoutPath(ctx context.Context, dir string) (string, error)
}

// WuReader resolves the merged durable-store + on-disk view of a WU.
// *wstate.Store is the production implementation.
type WuReader interface {
	Resolve(id string) (*types.WuInfo, error)
}

// SessionAdapter reports whether an interactive agent session currently
// owns the WU.
type SessionAdapter interface {
	Current() types.SessionState
}

// Resolver builds Context snapshots.
type Resolver struct {
	git        GitReader
	newWu      func(repoRoot string) WuReader
	session    SessionAdapter
	statExists func(path string) bool
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithGitReader replaces the exec-git reader.
func WithGitReader(g GitReader) Option {
	return func(r *Resolver) { r.git = g }
}

// WithWuReader replaces the per-root WU reader factory.
func WithWuReader(f func(repoRoot string) WuReader) Option {
	return func(r *Resolver) { r.newWu = f }
}

// WithSessionAdapter replaces the session adapter.
func WithSessionAdapter(s SessionAdapter) Option {
	return func(r *Resolver) { r.session = s }
}

// WithStat replaces the worktree-existence probe.
func WithStat(f func(path string) bool) Option {
	return func(r *Resolver) { r.statExists = f }
}

// New creates a Resolver with production defaults: exec git, the wstate
// store, and the environment session adapter.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		git: execGitReader{},
		newWu: func(repoRoot string) WuReader {
			return wstate.NewStore(repoRoot)
		},
		session: EnvSessionAdapter{},
		statExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot resolves the full context for a caller at cwd. wuID may be
// empty; it is then inferred from the worktree name when possible. The
// independent reads (git state, WU record, session) are issued
// concurrently since they are side-effect-free.
func (r *Resolver) Snapshot(ctx context.Context, cwd, wuID string) (*types.Context, error) {
	snap := &types.Context{}
	snap.Location = r.resolveLocation(ctx, cwd)

	if wuID == "" {
		wuID = snap.Location.WorktreeWuID
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		snap.Repo = r.git.ReadState(gctx, cwd)
		return nil
	})
	g.Go(func() error {
		snap.Session = r.session.Current()
		return nil
	})
	if wuID != "" && snap.Location.MainCheckoutPath != "" {
		id := types.NormalizeID(wuID)
		g.Go(func() error {
			info, err := r.newWu(snap.Location.MainCheckoutPath).Resolve(id)
			if err != nil {
				return err
			}
			snap.Wu = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// From main with an in_progress WU, the worktree's own state is what
	// matters for preconditions. A missing worktree is absent data, not an
	// error: recovery handles it.
	if snap.Location.Type == types.LocationMain &&
		snap.Wu != nil && snap.Wu.Record.Status == types.StatusInProgress {
		wtPath := types.WorktreePath(
			snap.Location.MainCheckoutPath, snap.Wu.Record.Lane, snap.Wu.Record.ID)
		if r.statExists(wtPath) {
			st := r.git.ReadState(ctx, wtPath)
			snap.WorktreeRepo = &st
		}
	}

	return snap, nil
}

// resolveLocation walks from cwd to the repository root and classifies it.
// Failures degrade to LocationUnknown rather than erroring: status and
// recovery must still work from broken checkouts.
func (r *Resolver) resolveLocation(ctx context.Context, cwd string) types.LocationContext {
	loc := types.LocationContext{Type: types.LocationUnknown, Cwd: cwd}

	root, err := r.git.RepoRoot(ctx, cwd)
	if err != nil {
		return loc
	}
	loc.RepoRoot = root

	main, err := r.git.MainCheckoutPath(ctx, cwd)
	if err != nil {
		return loc
	}
	loc.MainCheckoutPath = main

	if r.git.IsWorktree(ctx, cwd) {
		loc.Type = types.LocationWorktree
		loc.WorktreeName = filepath.Base(root)
		if _, id, ok := types.ParseWorktreeDirName(loc.WorktreeName); ok {
			loc.WorktreeWuID = id
		}
	} else {
		loc.Type = types.LocationMain
	}
	return loc
}

// execGitReader is the production GitReader backed by the git CLI.
type execGitReader struct{}

func (execGitReader) ReadState(ctx context.Context, dir string) types.RepoState {
	return git.New(dir).ReadState(ctx)
}

func (execGitReader) IsWorktree(ctx context.Context, dir string) bool {
	return git.New(dir).IsWorktree(ctx)
}

func (execGitReader) RepoRoot(ctx context.Context, dir string) (string, error) {
	return git.New(dir).RepoRoot(ctx)
}

func (execGitReader) MainCheckoutPath(ctx context.Context, dir string) (string, error) {
	return git.New(dir).MainCheckoutPath(ctx)
}

// EnvSessionAdapter reports a session from LW_SESSION_ID. Sessions default
// to inactive unless the environment says otherwise.
type EnvSessionAdapter struct{}

// Current implements SessionAdapter.
func (EnvSessionAdapter) Current() types.SessionState {
	if id := os.Getenv("LW_SESSION_ID"); id != "" {
		return types.SessionState{IsActive: true, SessionID: id}
	}
	return types.SessionState{}
}
