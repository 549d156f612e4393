// Package lifecycle coordinates the race-prone parts of multi-agent work
// on a shared repository: claims under lane admission, completion through
// short-lived metadata worktrees, push retries against a contended trunk,
// and crash recovery. Coordination is optimistic (fetch-rebase-retry)
// rather than lock-service based; the only hard mutual exclusion is the
// per-WU file lock around cleanup.
package lifecycle

import (
	"context"
	"time"

	"github.com/steveyegge/laneway/internal/git"
	"github.com/steveyegge/laneway/internal/types"
	"github.com/steveyegge/laneway/internal/wstate"
)

// GitOps is the slice of git behavior the lifecycle needs from one
// checkout. *git.Git is the production implementation; tests inject fakes.
type GitOps interface {
	Dir() string
	ReadState(ctx context.Context) types.RepoState
	CurrentBranch(ctx context.Context) (string, error)
	RevParse(ctx context.Context, ref string) (string, error)
	Fetch(ctx context.Context, remote string, refs ...string) error
	Push(ctx context.Context, remote, refspec string, force bool) error
	Rebase(ctx context.Context, onto string) error
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	AheadBehind(ctx context.Context, local, remote string) (ahead, behind int, err error)
	LogSubjects(ctx context.Context, base, head string) ([]string, error)
	DeleteBranch(ctx context.Context, name string, force bool) error
	WorktreeList(ctx context.Context) ([]git.Worktree, error)
	WorktreeAdd(ctx context.Context, path, newBranch, startPoint string) error
	WorktreeRemove(ctx context.Context, path string, force bool) error
	WorktreePrune(ctx context.Context) error
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	StagedFiles(ctx context.Context) ([]string, error)
}

// Manager runs lifecycle operations against one main checkout.
type Manager struct {
	mainPath string
	store    *wstate.Store
	newGit   func(dir string) GitOps
	remote   string
	trunk    string
	retry    RetryPolicy
	// metadataAllow extends the per-WU staged-file allowlist; docsAllow is
	// the docs-only allowlist of path prefixes and extensions.
	metadataAllow []string
	docsAllow     []string
	now           func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithGit replaces the git factory.
func WithGit(f func(dir string) GitOps) Option {
	return func(m *Manager) { m.newGit = f }
}

// WithStore replaces the WU state store.
func WithStore(s *wstate.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithRemote sets the remote and trunk branch names.
func WithRemote(remote, trunk string) Option {
	return func(m *Manager) {
		m.remote = remote
		m.trunk = trunk
	}
}

// WithRetryPolicy replaces the push retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.retry = p }
}

// WithMetadataAllowlist adds paths to the completion staged-file allowlist.
func WithMetadataAllowlist(paths []string) Option {
	return func(m *Manager) { m.metadataAllow = paths }
}

// WithDocsAllowlist replaces the docs-only staged-file allowlist.
func WithDocsAllowlist(patterns []string) Option {
	return func(m *Manager) { m.docsAllow = patterns }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager rooted at the main checkout.
func NewManager(mainPath string, opts ...Option) *Manager {
	m := &Manager{
		mainPath: mainPath,
		store:    wstate.NewStore(mainPath),
		newGit:   func(dir string) GitOps { return git.New(dir) },
		remote:   "origin",
		trunk:    "main",
		retry:    DefaultRetryPolicy(),
		docsAllow: []string{
			"docs/", "doc/", "README.md", "CHANGELOG.md", ".md",
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying state store for read-side callers.
func (m *Manager) Store() *wstate.Store { return m.store }

// remoteTrunk is the remote-tracking ref for trunk, e.g. origin/main.
func (m *Manager) remoteTrunk() string { return m.remote + "/" + m.trunk }
