// Package gate assembles and runs the ordered validation steps that stand
// between a WU and completion. Plans differ by risk tier: docs-only
// changes run a reduced list, high-risk changes pull in integration
// tests. Execution is strictly sequential; later steps may depend on
// artifacts earlier ones produced.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/laneway/internal/debug"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StatusPassed  StepStatus = "passed"
	StatusFailed  StepStatus = "failed"
	StatusWarned  StepStatus = "warned"  // failed but warn-only
	StatusSkipped StepStatus = "skipped"
)

// RunResult is the uniform contract every backing tool is invoked
// through. The scheduler never inspects tool-specific output beyond this.
type RunResult struct {
	OK         bool
	DurationMs int64
	Detail     string
}

// RunFunc executes a step's backing tool.
type RunFunc func(ctx context.Context, env Env) RunResult

// Step is one named validation step.
type Step struct {
	Name string
	// WarnOnly demotes a failure to a logged warning; the run continues.
	WarnOnly bool
	// Script is the backing script path, relative to the work dir. Empty
	// means the step is implemented in-process and can never be missing.
	Script string
	Run    RunFunc
}

// Env is the context a step runs against.
type Env struct {
	WuID     string
	Lane     string
	WorkDir  string
	DocsOnly bool
	// FullTests reports whether the test step ran (or will run) against
	// the whole suite rather than an incremental selection.
	FullTests bool
	// FullLint forces whole-tree lint.
	FullLint bool
	// OnTrunk: incremental has no well-defined base on the trunk branch.
	OnTrunk bool
	// ChangedPaths feeds incremental selection.
	ChangedPaths []string
	// SafetyCriticalPatterns come from the risk classifier; never empty.
	SafetyCriticalPatterns []string
}

// StepResult is one row of the running summary.
type StepResult struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	DurationMs int64      `json:"durationMs"`
	Reason     string     `json:"reason,omitempty"`
}

// Outcome is the end-of-run report. Results covers everything that ran
// before the run stopped, whether or not it stopped early.
type Outcome struct {
	Passed    bool         `json:"passed"`
	AbortedAt string       `json:"abortedAt,omitempty"` // step name, when stopped early
	Results   []StepResult `json:"results"`
}

// TelemetryEvent is emitted once per step outcome, fire-and-forget.
type TelemetryEvent struct {
	WuID       string
	Lane       string
	GateName   string
	Passed     bool
	DurationMs int64
}

// Scheduler runs plans. Zero value is not usable; use NewScheduler.
type Scheduler struct {
	// strict promotes a missing backing script from skip-with-warning to a
	// hard failure.
	strict     bool
	emit       func(TelemetryEvent)
	scriptStat func(workDir, script string) bool
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithStrictScripts makes missing backing scripts fail instead of skip.
func WithStrictScripts(strict bool) SchedulerOption {
	return func(s *Scheduler) { s.strict = strict }
}

// WithTelemetry installs the per-outcome emitter.
func WithTelemetry(emit func(TelemetryEvent)) SchedulerOption {
	return func(s *Scheduler) { s.emit = emit }
}

// WithScriptStat replaces the script-presence probe.
func WithScriptStat(stat func(workDir, script string) bool) SchedulerOption {
	return func(s *Scheduler) { s.scriptStat = stat }
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		emit:       func(TelemetryEvent) {},
		scriptStat: scriptExists,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the plan's steps in order. A failing step aborts the run
// unless warn-only. The summary always covers everything that ran.
func (s *Scheduler) Run(ctx context.Context, plan Plan, env Env) Outcome {
	outcome := Outcome{Passed: true}

	for _, step := range plan.Steps {
		if ctx.Err() != nil {
			outcome.Passed = false
			outcome.AbortedAt = step.Name
			outcome.Results = append(outcome.Results, StepResult{
				Name: step.Name, Status: StatusSkipped, Reason: ctx.Err().Error(),
			})
			break
		}

		if reason, skip := s.shouldSkip(step, plan, env); skip {
			outcome.Results = append(outcome.Results, StepResult{
				Name: step.Name, Status: StatusSkipped, Reason: reason,
			})
			continue
		}

		if step.Script != "" && !s.scriptStat(env.WorkDir, step.Script) {
			if s.strict {
				outcome.Passed = false
				outcome.AbortedAt = step.Name
				outcome.Results = append(outcome.Results, StepResult{
					Name: step.Name, Status: StatusFailed,
					Reason: fmt.Sprintf("backing script %s is missing", step.Script),
				})
				break
			}
			debug.Warnf("gate %s: backing script %s missing, skipping\n", step.Name, step.Script)
			outcome.Results = append(outcome.Results, StepResult{
				Name: step.Name, Status: StatusSkipped,
				Reason: fmt.Sprintf("backing script %s is missing", step.Script),
			})
			continue
		}

		started := time.Now()
		res := step.Run(ctx, env)
		if res.DurationMs == 0 {
			res.DurationMs = time.Since(started).Milliseconds()
		}

		s.emit(TelemetryEvent{
			WuID: env.WuID, Lane: env.Lane, GateName: step.Name,
			Passed: res.OK, DurationMs: res.DurationMs,
		})

		if res.OK {
			outcome.Results = append(outcome.Results, StepResult{
				Name: step.Name, Status: StatusPassed, DurationMs: res.DurationMs,
			})
			continue
		}
		if step.WarnOnly {
			debug.Warnf("gate %s failed (warn-only): %s\n", step.Name, res.Detail)
			outcome.Results = append(outcome.Results, StepResult{
				Name: step.Name, Status: StatusWarned,
				DurationMs: res.DurationMs, Reason: res.Detail,
			})
			continue
		}
		outcome.Passed = false
		outcome.AbortedAt = step.Name
		outcome.Results = append(outcome.Results, StepResult{
			Name: step.Name, Status: StatusFailed,
			DurationMs: res.DurationMs, Reason: res.Detail,
		})
		break
	}
	return outcome
}

// shouldSkip implements the coverage rule: threshold math over a partial
// test run is misleading, so coverage is skipped (not failed) whenever the
// preceding test step ran incrementally.
func (s *Scheduler) shouldSkip(step Step, plan Plan, env Env) (string, bool) {
	if step.Name == StepCoverage && !plan.TestsFull {
		return "tests ran incrementally; coverage threshold needs a full run", true
	}
	return "", false
}
