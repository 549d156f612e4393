package gate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// scriptsDir is where a repo keeps its gate scripts, relative to the
// work dir.
const scriptsDir = "scripts/gates"

func scriptPath(name string) string {
	return filepath.Join(scriptsDir, name+".sh")
}

func scriptExists(workDir, script string) bool {
	info, err := os.Stat(filepath.Join(workDir, script))
	return err == nil && !info.IsDir()
}

// scriptRun invokes a backing script with the step environment exported.
// Exit zero is the whole contract; nothing else is inspected.
func scriptRun(script string, extraArgs func(env Env) []string) RunFunc {
	return func(ctx context.Context, env Env) RunResult {
		args := []string{}
		if extraArgs != nil {
			args = extraArgs(env)
		}
		started := time.Now()
		cmd := exec.CommandContext(ctx, filepath.Join(env.WorkDir, script), args...)
		cmd.Dir = env.WorkDir
		cmd.Env = append(os.Environ(),
			"LW_WU_ID="+env.WuID,
			"LW_LANE="+env.Lane,
			"LW_CHANGED_PATHS="+strings.Join(env.ChangedPaths, ":"),
		)
		out, err := cmd.CombinedOutput()
		res := RunResult{
			OK:         err == nil,
			DurationMs: time.Since(started).Milliseconds(),
		}
		if err != nil {
			res.Detail = strings.TrimSpace(string(out))
			if res.Detail == "" {
				res.Detail = err.Error()
			}
		}
		return res
	}
}

func incrementalFlag(full bool) string {
	if full {
		return "--full"
	}
	return "--incremental"
}

// DefaultRegistry registers the standard step set. Structural is the only
// in-process step; everything else is script-backed and optionally
// present.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	steps := []*Step{
		{Name: StepStructural, Run: structuralCheck},
		{Name: StepFormat, Script: scriptPath(StepFormat),
			Run: scriptRun(scriptPath(StepFormat), nil)},
		{Name: StepSpecCheck, Script: scriptPath(StepSpecCheck),
			Run: scriptRun(scriptPath(StepSpecCheck), nil)},
		{Name: StepBacklog, Script: scriptPath(StepBacklog), WarnOnly: true,
			Run: scriptRun(scriptPath(StepBacklog), nil)},
		{Name: StepLint, Script: scriptPath(StepLint),
			Run: scriptRun(scriptPath(StepLint), func(env Env) []string {
				return []string{incrementalFlag(env.FullLint)}
			})},
		{Name: StepSafetyTests, Script: scriptPath(StepSafetyTests),
			Run: scriptRun(scriptPath(StepSafetyTests), func(env Env) []string {
				// The safety-critical subset runs in full regardless of
				// what changed.
				return env.SafetyCriticalPatterns
			})},
		{Name: StepTests, Script: scriptPath(StepTests),
			Run: scriptRun(scriptPath(StepTests), func(env Env) []string {
				return []string{incrementalFlag(env.FullTests)}
			})},
		{Name: StepIntegration, Script: scriptPath(StepIntegration),
			Run: scriptRun(scriptPath(StepIntegration), nil)},
		{Name: StepCoverage, Script: scriptPath(StepCoverage),
			Run: scriptRun(scriptPath(StepCoverage), nil)},
	}
	for _, s := range steps {
		if err := reg.Register(s); err != nil {
			panic(err) // duplicate names in the static set is a programming error
		}
	}
	return reg
}
