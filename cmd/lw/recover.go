package main

import (
	"github.com/spf13/cobra"
	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/legality"
	"github.com/steveyegge/laneway/internal/types"
)

var recoverCmd = &cobra.Command{
	Use:   "recover <wu-id>",
	Short: "Converge a work unit's state after a crash",
	Long: `Sweep up after an interrupted operation: remove orphaned temp
worktrees and branches, reconcile the WU record against the durable
status store, and restore a missing completion stamp. Safe to run
repeatedly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := types.NormalizeID(args[0])
		// Resolve the location only. Recovery exists precisely for WUs whose
		// record is broken, so the record must not be read before dispatch.
		snap, err := snapshot("")
		if err != nil {
			return err
		}
		if err := requireLegal(legality.CmdRecover, snap); err != nil {
			return err
		}

		cfg, err := loadConfig(snap)
		if err != nil {
			return err
		}
		res, err := newManager(snap, cfg).Recover(rootCtx, id)
		if err != nil {
			return err
		}

		changed := false
		for op, cleaned := range res.CleanedTemp {
			if cleaned.CleanedWorktree || cleaned.CleanedBranch {
				debug.PrintNormal("Removed orphaned temp worktree for %q\n", op)
				changed = true
			}
		}
		if res.ReconciledRecord {
			debug.PrintlnNormal("Reconciled record against the durable status store")
			changed = true
		}
		if res.StampRestored {
			debug.PrintlnNormal("Restored missing completion stamp")
			changed = true
		}
		if res.DisposedWorktree {
			debug.PrintlnNormal("Disposed of the completed WU's worktree")
			changed = true
		}
		if !changed {
			debug.PrintNormal("%s is consistent; nothing to recover\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
