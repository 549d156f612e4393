package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/gate"
	"github.com/steveyegge/laneway/internal/registry"
	"github.com/steveyegge/laneway/internal/risk"
	"github.com/steveyegge/laneway/internal/telemetry"
	"github.com/steveyegge/laneway/internal/types"
)

var gatesCmd = &cobra.Command{
	Use:   "gates [wu-id]",
	Short: "Run the quality gates for a work unit's change set",
	Long: `Classify the WU's change set, assemble the matching gate plan
(docs-only changes get the light plan, code changes the full one), and
run it in order. The structural state check always runs first and cannot
be bypassed. Gates run against the current checkout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) == 1 {
			id = types.NormalizeID(args[0])
		}
		snap, err := snapshot(id)
		if err != nil {
			return err
		}
		if snap.Wu == nil {
			return fmt.Errorf("no WU id given and none inferable from the current directory")
		}
		rec := snap.Wu.Record

		cfg, err := loadConfig(snap)
		if err != nil {
			return err
		}

		changed, _ := cmd.Flags().GetStringSlice("changed")
		if len(changed) == 0 {
			changed = rec.CodePaths
		}
		rc := risk.Classify(changed)

		// Registry-served safety patterns win over the built-in set when a
		// lookup (or its cache) delivers one. Lookups are bounded and never
		// block the gates: on timeout the built-ins stand.
		if cfg.RegistryEndpoint != "" {
			client := registry.NewClient(cfg.RegistryEndpoint, cfg.RegistryTimeout, repoRoot(snap))
			if p := client.Patterns(rootCtx); len(p.SafetyCriticalTests) > 0 {
				rc.SafetyCriticalPatterns = p.SafetyCriticalTests
			}
		}

		onTrunk, _ := cmd.Flags().GetBool("on-trunk")
		if snap.Location.Type == types.LocationMain && snap.Repo.Branch == cfg.Trunk {
			onTrunk = true
		}
		opts := gate.PlanOptions{OnTrunk: onTrunk}
		opts.FullTests, _ = cmd.Flags().GetBool("full-tests")
		opts.FullLint, _ = cmd.Flags().GetBool("full-lint")
		opts.FullCoverage, _ = cmd.Flags().GetBool("full-coverage")

		workDir := snap.Location.RepoRoot
		if workDir == "" {
			workDir = snap.Location.Cwd
		}

		reg := gate.DefaultRegistry()
		plan := gate.BuildPlan(reg, rc, opts)
		env := gate.BuildEnv(rec.ID, rec.Lane, workDir, rc, changed, opts)

		sched := gate.NewScheduler(
			gate.WithStrictScripts(cfg.StrictGateScripts),
			gate.WithTelemetry(telemetry.RecordGateOutcome),
		)
		outcome := sched.Run(rootCtx, plan, env)

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcome); err != nil {
				return err
			}
		} else {
			printOutcome(rec.ID, rc, outcome)
		}
		if !outcome.Passed {
			return fmt.Errorf("gates failed at %s", outcome.AbortedAt)
		}
		return nil
	},
}

func printOutcome(wuID string, rc risk.Result, outcome gate.Outcome) {
	debug.PrintNormal("Gates for %s (%s tier)\n", wuID, rc.Tier)
	for _, r := range outcome.Results {
		// Quiet mode still reports failures; everything else is noise there.
		if debug.IsQuiet() && r.Status != gate.StatusFailed {
			continue
		}
		line := fmt.Sprintf("  %-7s %s (%dms)", r.Status, r.Name, r.DurationMs)
		if r.Reason != "" {
			line += ": " + r.Reason
		}
		fmt.Println(line)
	}
	if outcome.Passed {
		debug.PrintlnNormal("All gates passed")
	}
}

func init() {
	gatesCmd.Flags().StringSlice("changed", nil, "Changed paths to classify (default: the WU's code_paths)")
	gatesCmd.Flags().Bool("full-tests", false, "Run the whole test suite instead of incremental selection")
	gatesCmd.Flags().Bool("full-lint", false, "Lint the whole tree instead of changed packages")
	gatesCmd.Flags().Bool("full-coverage", false, "Demand a meaningful coverage result (forces full tests)")
	gatesCmd.Flags().Bool("on-trunk", false, "Force trunk-mode gating (full lint and tests)")
	rootCmd.AddCommand(gatesCmd)
}
