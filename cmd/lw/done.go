package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/legality"
	"github.com/steveyegge/laneway/internal/types"
)

var doneCmd = &cobra.Command{
	Use:   "done <wu-id>",
	Short: "Complete a work unit and publish it to trunk",
	Long: `Mark an in_progress WU done: write the completion stamp, publish the
metadata to trunk through a short-lived worktree, and dispose of the WU's
worktree and branch (kept for pr-mode claims). Idempotent: re-running on
a completed WU is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := types.NormalizeID(args[0])
		snap, err := snapshot(id)
		if err != nil {
			return err
		}
		if doneNeedsLegality(snap) {
			if err := requireLegal(legality.CmdDone, snap); err != nil {
				return err
			}
		}

		cfg, err := loadConfig(snap)
		if err != nil {
			return err
		}
		mgr := newManager(snap, cfg)

		res, err := mgr.Complete(rootCtx, id)
		if err != nil {
			return err
		}
		printWarnings(res.Warnings)
		if res.AlreadyComplete {
			debug.PrintNormal("%s is already complete\n", id)
			return nil
		}
		debug.PrintNormal("Completed %s\n", id)
		if len(res.ParallelCompletions) > 0 {
			debug.PrintNormal("Also landed since your baseline: %s\n",
				strings.Join(res.ParallelCompletions, ", "))
			debug.PrintlnNormal("Your changes were rebased over them; double-check anything that overlaps.")
		}
		return nil
	},
}

// doneNeedsLegality reports whether done must pass the legality gate. A WU
// already marked done skips the gate straight to Complete, which treats an
// existing stamp as a no-op instead of an error.
func doneNeedsLegality(snap *types.Context) bool {
	return snap.Wu == nil || snap.Wu.Record.Status != types.StatusDone
}

func init() {
	rootCmd.AddCommand(doneCmd)
}
