// Package types defines core data structures for the laneway WU coordinator.
package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status represents a WU's lifecycle state. The lifecycle is
// ready -> in_progress -> done, with blocked as a side excursion from
// in_progress. done is terminal.
type Status string

const (
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// ValidStatuses returns all valid WU statuses.
func ValidStatuses() []Status {
	return []Status{StatusReady, StatusInProgress, StatusBlocked, StatusDone}
}

// ParseStatus parses a string into a Status, case-insensitive.
func ParseStatus(s string) (Status, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, st := range ValidStatuses() {
		if string(st) == lower {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown WU status %q (valid: ready, in_progress, blocked, done)", s)
}

// IsTerminal returns true for the done status. A done WU never transitions again.
func (s Status) IsTerminal() bool {
	return s == StatusDone
}

var wuIDPattern = regexp.MustCompile(`^WU-\d+$`)

// ValidateID checks that an id matches the WU-<digits> convention.
func ValidateID(id string) error {
	if !wuIDPattern.MatchString(id) {
		return fmt.Errorf("invalid WU id %q: must match WU-<number>", id)
	}
	return nil
}

// NormalizeID uppercases the WU- prefix so "wu-12" and "WU-12" refer to the
// same unit. Returns the input unchanged if it doesn't look like a WU id.
func NormalizeID(id string) string {
	upper := strings.ToUpper(strings.TrimSpace(id))
	if wuIDPattern.MatchString(upper) {
		return upper
	}
	return id
}

// ClaimedMode controls what happens to a WU's worktree after completion.
type ClaimedMode string

const (
	// ModeDirect merges to trunk in place; the worktree is disposed after
	// a successful completion.
	ModeDirect ClaimedMode = "direct"
	// ModePR pushes the lane branch for review; the checkout survives as a
	// branch-only checkout so review feedback can be addressed.
	ModePR ClaimedMode = "pr"
	// ModePRWorktree is like ModePR but keeps the dedicated worktree alive.
	ModePRWorktree ClaimedMode = "pr-worktree"
)

// PreservesWorktree reports whether completion must leave the worktree in
// place. Only the default direct mode disposes of it.
func (m ClaimedMode) PreservesWorktree() bool {
	return m != ModeDirect && m != ""
}

// ParseClaimedMode parses a claimed mode, defaulting empty to direct.
func ParseClaimedMode(s string) (ClaimedMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeDirect):
		return ModeDirect, nil
	case string(ModePR):
		return ModePR, nil
	case string(ModePRWorktree):
		return ModePRWorktree, nil
	}
	return "", fmt.Errorf("unknown claimed mode %q (valid: direct, pr, pr-worktree)", s)
}

// Lane is a named WU grouping with admission control. No more than WIPLimit
// agents may hold in_progress WUs in the same lane at once; a locked lane
// admits no new claims at all.
type Lane struct {
	Name     string `yaml:"name"`
	WIPLimit int    `yaml:"wip_limit"`
	Locked   bool   `yaml:"locked,omitempty"`
}

// Record is the durable, per-WU state file. It is a tagged union over
// Status: each status admits a different set of meaningful fields, enforced
// by Validate at the deserialization boundary rather than by
// optional-chaining in business logic.
type Record struct {
	ID              string      `yaml:"id"`
	Status          Status      `yaml:"status"`
	Lane            string      `yaml:"lane"`
	Title           string      `yaml:"title"`
	CodePaths       []string    `yaml:"code_paths,omitempty"`
	ClaimedMode     ClaimedMode `yaml:"claimed_mode,omitempty"`
	BaselineMainSHA string      `yaml:"baseline_main_sha,omitempty"`
	BlockedReason   string      `yaml:"blocked_reason,omitempty"`
	BlockedBy       []string    `yaml:"blocked_by,omitempty"`
	Dependencies    []string    `yaml:"dependencies,omitempty"`
	ClaimedAt       *time.Time  `yaml:"claimed_at,omitempty"`
	CompletedAt     *time.Time  `yaml:"completed_at,omitempty"`
}

// Validate enforces the per-status field contract. Called when a record is
// read from or written to disk, so the rest of the core can rely on the
// variant's shape.
func (r *Record) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if r.Lane == "" {
		return fmt.Errorf("%s: lane is required", r.ID)
	}
	if _, err := ParseStatus(string(r.Status)); err != nil {
		return fmt.Errorf("%s: %w", r.ID, err)
	}
	switch r.Status {
	case StatusBlocked:
		if r.BlockedReason == "" {
			return fmt.Errorf("%s: blocked WU requires a blocked_reason", r.ID)
		}
	case StatusReady:
		if r.BlockedReason != "" {
			return fmt.Errorf("%s: ready WU must not carry a blocked_reason", r.ID)
		}
		if r.ClaimedAt != nil {
			return fmt.Errorf("%s: ready WU must not carry claimed_at", r.ID)
		}
	case StatusInProgress:
		if r.BlockedReason != "" {
			return fmt.Errorf("%s: in_progress WU must not carry a blocked_reason", r.ID)
		}
	case StatusDone:
		if r.CompletedAt == nil {
			return fmt.Errorf("%s: done WU requires completed_at", r.ID)
		}
	}
	return nil
}

// Stamp is the durable, idempotent marker that a WU reached done.
// Existence of the stamp file is the "is this WU done" signal; re-stamping
// an already-stamped WU is a no-op.
type Stamp struct {
	ID          string    `yaml:"id"`
	CompletedAt time.Time `yaml:"completed_at"`
}

// SessionState tracks whether an interactive agent session currently owns
// the WU. Distinct from the WU's own status: a WU can be in_progress with
// no live session (crashed agent), or a session can be active on a WU that
// another process just completed.
type SessionState struct {
	IsActive  bool
	SessionID string
}
