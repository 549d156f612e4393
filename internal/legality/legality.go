// Package legality decides which lifecycle commands are valid for a given
// context snapshot, and explains why the invalid ones are invalid. It
// never returns hard errors for rule failures: every outcome is a
// structured Result so callers can render copy-paste-ready guidance.
package legality

import (
	"fmt"

	"github.com/steveyegge/laneway/internal/types"
)

// Code identifies why a command was rejected.
type Code string

const (
	CodeUnknownCommand  Code = "UnknownCommand"
	CodeWrongLocation   Code = "WrongLocation"
	CodeWrongWuStatus   Code = "WrongWuStatus"
	CodePredicateFailed Code = "PredicateFailed"
)

// Severity controls whether a failed predicate blocks the command or just
// annotates the result.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Predicate is one reusable context check. Check returns true when the
// predicate is satisfied; FixMessage produces actionable guidance when it
// is not.
type Predicate struct {
	ID          string
	Description string
	Severity    Severity
	Check       func(ctx *types.Context) bool
	FixMessage  func(ctx *types.Context) string
}

// CommandDefinition describes the legality rules for one command. Zero
// values for RequiredLocation/RequiredWuStatus mean unrestricted.
type CommandDefinition struct {
	Name             string
	RequiredLocation types.LocationType
	RequiredWuStatus types.Status
	Predicates       []*Predicate
	NextSteps        func(ctx *types.Context) []string
}

// Issue is one validation failure, blocking or not.
type Issue struct {
	Code        Code
	PredicateID string // set for CodePredicateFailed
	Message     string
	Fix         string // literal shell line where one exists
}

// Result is the outcome of validating one command against one context.
type Result struct {
	Valid    bool
	Errors   []Issue
	Warnings []Issue
}

// Registry is the static command-name -> definition map. Built once at
// startup and never mutated afterward, so the state machine stays
// trivially testable by construction.
type Registry struct {
	commands map[string]*CommandDefinition
	order    []string
}

// NewRegistry builds the full command registry.
func NewRegistry() *Registry {
	r := &Registry{commands: map[string]*CommandDefinition{}}
	for _, def := range commandDefinitions() {
		r.commands[def.Name] = def
		r.order = append(r.order, def.Name)
	}
	return r
}

// Get returns a command definition, or nil for an unknown name.
func (r *Registry) Get(name string) *CommandDefinition {
	return r.commands[name]
}

// Validate checks whether a command is legal in the given context.
func (r *Registry) Validate(name string, ctx *types.Context) Result {
	def, ok := r.commands[name]
	if !ok {
		return Result{Errors: []Issue{{
			Code:    CodeUnknownCommand,
			Message: fmt.Sprintf("unknown command %q", name),
		}}}
	}

	var result Result

	if def.RequiredLocation != "" && ctx.Location.Type != def.RequiredLocation {
		result.Errors = append(result.Errors, Issue{
			Code: CodeWrongLocation,
			Message: fmt.Sprintf("%s must run from the %s checkout (currently in %s)",
				def.Name, def.RequiredLocation, ctx.Location.Type),
			Fix: locationFix(def.RequiredLocation, ctx),
		})
	}

	if def.RequiredWuStatus != "" {
		actual := "none"
		if ctx.Wu != nil {
			actual = string(ctx.Wu.Record.Status)
		}
		if ctx.Wu == nil || ctx.Wu.Record.Status != def.RequiredWuStatus {
			result.Errors = append(result.Errors, Issue{
				Code: CodeWrongWuStatus,
				Message: fmt.Sprintf("%s requires WU status %q, but status is %q",
					def.Name, def.RequiredWuStatus, actual),
			})
		}
	}

	for _, p := range def.Predicates {
		if p.Check(ctx) {
			continue
		}
		issue := Issue{
			Code:        CodePredicateFailed,
			PredicateID: p.ID,
			Message:     p.Description,
			Fix:         p.FixMessage(ctx),
		}
		if p.Severity == SeverityError {
			result.Errors = append(result.Errors, issue)
		} else {
			result.Warnings = append(result.Warnings, issue)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// ValidCommands returns every registered command whose full validation
// passes for the context, in registration order. Drives "what can I do
// right now" prompts.
func (r *Registry) ValidCommands(ctx *types.Context) []string {
	var valid []string
	for _, name := range r.order {
		if r.Validate(name, ctx).Valid {
			valid = append(valid, name)
		}
	}
	return valid
}

// locationFix synthesizes a literal, directly runnable shell line that
// moves the caller to the required location.
func locationFix(required types.LocationType, ctx *types.Context) string {
	switch required {
	case types.LocationMain:
		if ctx.Location.MainCheckoutPath != "" {
			return "cd " + ctx.Location.MainCheckoutPath
		}
	case types.LocationWorktree:
		if ctx.Wu != nil {
			return "cd " + types.WorktreePath(
				ctx.Location.MainCheckoutPath, ctx.Wu.Record.Lane, ctx.Wu.Record.ID)
		}
	}
	return ""
}
