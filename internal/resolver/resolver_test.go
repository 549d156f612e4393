package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/steveyegge/laneway/internal/types"
)

type fakeGit struct {
	states   map[string]types.RepoState
	worktree map[string]bool
	roots    map[string]string
	mains    map[string]string
}

func (f fakeGit) ReadState(_ context.Context, dir string) types.RepoState {
	return f.states[dir]
}

func (f fakeGit) IsWorktree(_ context.Context, dir string) bool {
	return f.worktree[dir]
}

func (f fakeGit) RepoRoot(_ context.Context, dir string) (string, error) {
	root, ok := f.roots[dir]
	if !ok {
		return "", errors.New("not a git repository")
	}
	return root, nil
}

func (f fakeGit) MainCheckoutPath(_ context.Context, dir string) (string, error) {
	main, ok := f.mains[dir]
	if !ok {
		return "", errors.New("no common dir")
	}
	return main, nil
}

type fakeWuReader struct {
	infos map[string]*types.WuInfo
}

func (f fakeWuReader) Resolve(id string) (*types.WuInfo, error) {
	info, ok := f.infos[id]
	if !ok {
		return nil, types.ErrWuNotFound
	}
	return info, nil
}

type fakeSession struct{ state types.SessionState }

func (f fakeSession) Current() types.SessionState { return f.state }

func newTestResolver(g fakeGit, wu fakeWuReader, exists map[string]bool) *Resolver {
	return New(
		WithGitReader(g),
		WithWuReader(func(string) WuReader { return wu }),
		WithSessionAdapter(fakeSession{state: types.SessionState{IsActive: true, SessionID: "s1"}}),
		WithStat(func(path string) bool { return exists[path] }),
	)
}

func TestSnapshotLocationMain(t *testing.T) {
	g := fakeGit{
		states:   map[string]types.RepoState{"/repo": {Branch: "main"}},
		worktree: map[string]bool{"/repo": false},
		roots:    map[string]string{"/repo": "/repo"},
		mains:    map[string]string{"/repo": "/repo"},
	}
	r := newTestResolver(g, fakeWuReader{}, nil)

	snap, err := r.Snapshot(context.Background(), "/repo", "")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Location.Type != types.LocationMain {
		t.Errorf("location = %s, want main", snap.Location.Type)
	}
	if snap.Location.MainCheckoutPath != "/repo" {
		t.Errorf("main checkout = %q", snap.Location.MainCheckoutPath)
	}
	if snap.Repo.Branch != "main" {
		t.Errorf("repo branch = %q", snap.Repo.Branch)
	}
	if snap.Wu != nil {
		t.Errorf("expected nil Wu with no id")
	}
	if !snap.Session.IsActive || snap.Session.SessionID != "s1" {
		t.Errorf("session = %+v", snap.Session)
	}
}

func TestSnapshotWorktreeInference(t *testing.T) {
	wt := "/repo/.worktrees/core-wu-042"
	g := fakeGit{
		states:   map[string]types.RepoState{wt: {Branch: "lane/core/wu-042"}},
		worktree: map[string]bool{wt: true},
		roots:    map[string]string{wt: wt},
		mains:    map[string]string{wt: "/repo"},
	}
	wu := fakeWuReader{infos: map[string]*types.WuInfo{
		"WU-042": {
			Record:       types.Record{ID: "WU-042", Status: types.StatusInProgress, Lane: "core"},
			IsConsistent: true,
		},
	}}
	r := newTestResolver(g, wu, nil)

	snap, err := r.Snapshot(context.Background(), wt, "")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Location.Type != types.LocationWorktree {
		t.Fatalf("location = %s, want worktree", snap.Location.Type)
	}
	if snap.Location.WorktreeWuID != "WU-042" {
		t.Errorf("inferred id = %q, want WU-042", snap.Location.WorktreeWuID)
	}
	if snap.Wu == nil || snap.Wu.Record.ID != "WU-042" {
		t.Errorf("Wu = %+v, want WU-042 resolved from inferred id", snap.Wu)
	}
	if snap.WorktreeRepo != nil {
		t.Errorf("WorktreeRepo should not be populated from inside a worktree")
	}
}

func TestSnapshotWorktreeRepoFromMain(t *testing.T) {
	wtPath := types.WorktreePath("/repo", "core", "WU-042")
	g := fakeGit{
		states: map[string]types.RepoState{
			"/repo": {Branch: "main", IsDirty: true},
			wtPath:  {Branch: "lane/core/wu-042", AheadCount: 2},
		},
		worktree: map[string]bool{"/repo": false},
		roots:    map[string]string{"/repo": "/repo"},
		mains:    map[string]string{"/repo": "/repo"},
	}
	wu := fakeWuReader{infos: map[string]*types.WuInfo{
		"WU-042": {
			Record:       types.Record{ID: "WU-042", Status: types.StatusInProgress, Lane: "core"},
			IsConsistent: true,
		},
	}}

	t.Run("worktree exists", func(t *testing.T) {
		r := newTestResolver(g, wu, map[string]bool{wtPath: true})
		snap, err := r.Snapshot(context.Background(), "/repo", "wu-042")
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.WorktreeRepo == nil {
			t.Fatal("WorktreeRepo not populated")
		}
		if snap.WorktreeRepo.AheadCount != 2 {
			t.Errorf("WorktreeRepo.AheadCount = %d", snap.WorktreeRepo.AheadCount)
		}
		if !snap.Repo.IsDirty {
			t.Errorf("caller state overwritten by worktree state")
		}
	})

	t.Run("worktree missing", func(t *testing.T) {
		r := newTestResolver(g, wu, nil)
		snap, err := r.Snapshot(context.Background(), "/repo", "wu-042")
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.WorktreeRepo != nil {
			t.Errorf("missing worktree must yield absent data, got %+v", snap.WorktreeRepo)
		}
	})
}

func TestSnapshotNoWorktreeRepoForTerminalWu(t *testing.T) {
	g := fakeGit{
		states:   map[string]types.RepoState{"/repo": {Branch: "main"}},
		worktree: map[string]bool{"/repo": false},
		roots:    map[string]string{"/repo": "/repo"},
		mains:    map[string]string{"/repo": "/repo"},
	}
	wu := fakeWuReader{infos: map[string]*types.WuInfo{
		"WU-007": {
			Record:       types.Record{ID: "WU-007", Status: types.StatusReady, Lane: "core"},
			IsConsistent: true,
		},
	}}
	r := newTestResolver(g, wu, map[string]bool{types.WorktreePath("/repo", "core", "WU-007"): true})

	snap, err := r.Snapshot(context.Background(), "/repo", "WU-007")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.WorktreeRepo != nil {
		t.Errorf("WorktreeRepo populated for non-in_progress WU")
	}
}

func TestSnapshotUnknownLocation(t *testing.T) {
	g := fakeGit{roots: map[string]string{}}
	r := newTestResolver(g, fakeWuReader{}, nil)

	snap, err := r.Snapshot(context.Background(), "/tmp/nowhere", "")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Location.Type != types.LocationUnknown {
		t.Errorf("location = %s, want unknown", snap.Location.Type)
	}
	if snap.Wu != nil {
		t.Errorf("Wu should stay nil without a resolvable root")
	}
}

func TestSnapshotWuNotFound(t *testing.T) {
	g := fakeGit{
		states:   map[string]types.RepoState{"/repo": {Branch: "main"}},
		worktree: map[string]bool{"/repo": false},
		roots:    map[string]string{"/repo": "/repo"},
		mains:    map[string]string{"/repo": "/repo"},
	}
	r := newTestResolver(g, fakeWuReader{}, nil)

	_, err := r.Snapshot(context.Background(), "/repo", "WU-999")
	if !errors.Is(err, types.ErrWuNotFound) {
		t.Fatalf("err = %v, want ErrWuNotFound", err)
	}
}
