package types

// LocationType describes where the calling process stands relative to the
// shared repository.
type LocationType string

const (
	LocationMain     LocationType = "main"
	LocationWorktree LocationType = "worktree"
	LocationUnknown  LocationType = "unknown"
)

// LocationContext is an immutable snapshot of the caller's location,
// recomputed per invocation.
type LocationContext struct {
	Type             LocationType
	Cwd              string
	RepoRoot         string
	MainCheckoutPath string
	WorktreeName     string // set when Type == LocationWorktree
	WorktreeWuID     string // WU id decoded from the worktree name, if any
}

// RepoState is a snapshot of git state for one checkout. When ReadError is
// set the other fields are unreliable and callers must treat the checkout
// as conservatively not clean.
type RepoState struct {
	Branch        string
	IsDetached    bool
	IsDirty       bool // uncommitted changes to tracked files
	HasStaged     bool
	AheadCount    int
	BehindCount   int
	TrackingRef   string
	ModifiedFiles []string
	ReadError     error
}

// Clean reports whether the checkout is safe to operate on: state was
// readable and carries no uncommitted or staged changes.
func (s *RepoState) Clean() bool {
	if s == nil || s.ReadError != nil {
		return false
	}
	return !s.IsDirty && !s.HasStaged
}

// Context is the composite snapshot every legality decision runs against.
//
// Wu is nil when no WU id was supplied or inferable. WorktreeRepo is the
// WU's own worktree state, populated only when the caller is in the main
// checkout and the WU is in_progress; it must never be conflated with Repo
// (the caller's own checkout): a dirty main checkout must not block an
// operation whose real precondition is a clean worktree.
type Context struct {
	Location     LocationContext
	Repo         RepoState
	Wu           *WuInfo
	Session      SessionState
	WorktreeRepo *RepoState
}

// WuInfo is the resolved view of one WU: the merged durable-store +
// on-disk record, plus the consistency verdict between the two.
type WuInfo struct {
	Record              Record
	RecordPath          string
	IsConsistent        bool
	InconsistencyReason string
}

// WorktreeState returns the repo state that governs worktree-precondition
// checks: the WU's own worktree when resolved, otherwise the caller's
// checkout.
func (c *Context) WorktreeState() *RepoState {
	if c.WorktreeRepo != nil {
		return c.WorktreeRepo
	}
	return &c.Repo
}
