package legality

import (
	"fmt"

	"github.com/steveyegge/laneway/internal/types"
)

// Command names. The lifecycle of a single WU is a state machine over
// these: create -> claim -> (block <-> unblock)* -> done, with status and
// recover as unrestricted escape hatches.
const (
	CmdCreate  = "create"
	CmdClaim   = "claim"
	CmdDone    = "done"
	CmdBlock   = "block"
	CmdUnblock = "unblock"
	CmdStatus  = "status"
	CmdRecover = "recover"
)

func commandDefinitions() []*CommandDefinition {
	return []*CommandDefinition{
		{
			Name:             CmdCreate,
			RequiredLocation: types.LocationMain,
			NextSteps: func(ctx *types.Context) []string {
				return []string{"lw claim <wu-id>"}
			},
		},
		{
			Name:             CmdClaim,
			RequiredLocation: types.LocationMain,
			RequiredWuStatus: types.StatusReady,
			NextSteps: func(ctx *types.Context) []string {
				if ctx.Wu == nil {
					return nil
				}
				return []string{
					"cd " + types.WorktreePath(ctx.Location.MainCheckoutPath,
						ctx.Wu.Record.Lane, ctx.Wu.Record.ID),
				}
			},
		},
		{
			Name:             CmdDone,
			RequiredLocation: types.LocationMain,
			RequiredWuStatus: types.StatusInProgress,
			Predicates: []*Predicate{
				predWorktreeClean,
				predHasCommits,
				predStateConsistent,
			},
		},
		{
			Name:             CmdBlock,
			RequiredWuStatus: types.StatusInProgress,
		},
		{
			Name:             CmdUnblock,
			RequiredWuStatus: types.StatusBlocked,
		},
		{
			// Always legal: the introspection escape hatch.
			Name: CmdStatus,
		},
		{
			// Operates on WUs in any state, inconsistent ones included.
			Name:             CmdRecover,
			RequiredLocation: types.LocationMain,
		},
	}
}

// predWorktreeClean gates done on the WU's worktree being clean. It checks
// the worktree's own state in preference to the caller's checkout: a dirty
// main checkout must never block done when the worktree is clean, and a
// clean main checkout must never unblock done when the worktree is dirty.
var predWorktreeClean = &Predicate{
	ID:          "worktree-clean",
	Description: "the WU worktree has uncommitted changes",
	Severity:    SeverityError,
	Check: func(ctx *types.Context) bool {
		return ctx.WorktreeState().Clean()
	},
	FixMessage: func(ctx *types.Context) string {
		st := ctx.WorktreeState()
		if st.ReadError != nil {
			return fmt.Sprintf("git state unreadable (%v); run: lw recover %s", st.ReadError, wuID(ctx))
		}
		if ctx.Wu != nil {
			return "git -C " + types.WorktreePath(ctx.Location.MainCheckoutPath,
				ctx.Wu.Record.Lane, ctx.Wu.Record.ID) + " status"
		}
		return "git status"
	},
}

// predHasCommits warns (does not block) when the worktree branch has no
// commits ahead of its upstream: completing with zero commits is usually
// an agent that sleepwalked through the work.
var predHasCommits = &Predicate{
	ID:          "has-commits",
	Description: "the WU branch has no commits ahead of its upstream",
	Severity:    SeverityWarning,
	Check: func(ctx *types.Context) bool {
		return ctx.WorktreeState().AheadCount > 0
	},
	FixMessage: func(ctx *types.Context) string {
		return "commit your work before completing, or complete anyway if this WU intentionally produced no changes"
	},
}

// predStateConsistent blocks done when the durable store and the on-disk
// record disagree; completing on top of split state loses one side.
var predStateConsistent = &Predicate{
	ID:          "state-consistent",
	Description: "the durable state store disagrees with the on-disk record",
	Severity:    SeverityError,
	Check: func(ctx *types.Context) bool {
		return ctx.Wu == nil || ctx.Wu.IsConsistent
	},
	FixMessage: func(ctx *types.Context) string {
		reason := ""
		if ctx.Wu != nil {
			reason = ctx.Wu.InconsistencyReason
		}
		return fmt.Sprintf("lw recover %s  # %s", wuID(ctx), reason)
	},
}

func wuID(ctx *types.Context) string {
	if ctx.Wu != nil {
		return ctx.Wu.Record.ID
	}
	return "<wu-id>"
}
