package gate

import (
	"github.com/steveyegge/laneway/internal/risk"
)

// Canonical step names. Plans are assembled from the registry by name; the
// order below is the only order steps ever run in.
const (
	StepStructural  = "structural"
	StepFormat      = "format"
	StepSpecCheck   = "spec-check"
	StepBacklog     = "backlog-check"
	StepLint        = "lint"
	StepSafetyTests = "safety-tests"
	StepTests       = "tests"
	StepIntegration = "integration"
	StepCoverage    = "coverage"
)

// Plan is an ordered step list plus the facts the skip rules need.
type Plan struct {
	Steps []Step
	// TestsFull records whether the test step runs the whole suite. The
	// coverage gate is only meaningful when it does.
	TestsFull bool
}

// PlanOptions control plan assembly.
type PlanOptions struct {
	// FullLint forces whole-tree lint instead of incremental.
	FullLint bool
	// FullTests forces the whole suite instead of incremental selection.
	FullTests bool
	// FullCoverage demands a meaningful coverage result; it forces full
	// tests first rather than skipping the coverage gate.
	FullCoverage bool
	// OnTrunk: incremental modes have no well-defined base on trunk, so
	// both lint and tests go full.
	OnTrunk bool
}

// BuildPlan assembles the ordered step list for one risk result. The
// structural check is always first and present in every mode; it is not
// bypassable.
func BuildPlan(reg *Registry, rc risk.Result, opts PlanOptions) Plan {
	full := opts.FullTests || opts.FullCoverage || opts.OnTrunk
	plan := Plan{TestsFull: full}

	// Docs-only runs the reduced list; full mode runs that same list plus
	// the code-oriented steps.
	names := []string{StepStructural, StepFormat, StepSpecCheck, StepBacklog}
	if rc.Tier != risk.TierDocsOnly {
		names = append(names, StepLint, StepSafetyTests, StepTests)
		if rc.ShouldRunIntegration {
			names = append(names, StepIntegration)
		}
		names = append(names, StepCoverage)
	}

	for _, name := range names {
		if step := reg.Get(name); step != nil {
			plan.Steps = append(plan.Steps, *step)
		}
	}
	return plan
}

// BuildEnv derives the step environment from the same inputs.
func BuildEnv(wuID, lane, workDir string, rc risk.Result, changedPaths []string, opts PlanOptions) Env {
	full := opts.FullTests || opts.FullCoverage || opts.OnTrunk
	return Env{
		WuID:                   wuID,
		Lane:                   lane,
		WorkDir:                workDir,
		DocsOnly:               rc.Tier == risk.TierDocsOnly,
		FullTests:              full,
		FullLint:               opts.FullLint || opts.OnTrunk,
		OnTrunk:                opts.OnTrunk,
		ChangedPaths:           changedPaths,
		SafetyCriticalPatterns: rc.SafetyCriticalPatterns,
	}
}
