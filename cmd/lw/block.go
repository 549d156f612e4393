package main

import (
	"github.com/spf13/cobra"
	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/legality"
	"github.com/steveyegge/laneway/internal/types"
)

var blockCmd = &cobra.Command{
	Use:   "block <wu-id>",
	Short: "Mark an in-progress work unit as blocked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		id := types.NormalizeID(args[0])
		snap, err := snapshot(id)
		if err != nil {
			return err
		}
		if err := requireLegal(legality.CmdBlock, snap); err != nil {
			return err
		}

		cfg, err := loadConfig(snap)
		if err != nil {
			return err
		}
		if err := newManager(snap, cfg).Block(rootCtx, id, reason); err != nil {
			return err
		}
		debug.PrintNormal("Blocked %s: %s\n", id, reason)
		return nil
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <wu-id>",
	Short: "Return a blocked work unit to in-progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := types.NormalizeID(args[0])
		snap, err := snapshot(id)
		if err != nil {
			return err
		}
		if err := requireLegal(legality.CmdUnblock, snap); err != nil {
			return err
		}

		cfg, err := loadConfig(snap)
		if err != nil {
			return err
		}
		if err := newManager(snap, cfg).Unblock(rootCtx, id); err != nil {
			return err
		}
		debug.PrintNormal("Unblocked %s\n", id)
		return nil
	},
}

func init() {
	blockCmd.Flags().StringP("reason", "r", "", "Why the WU is blocked")
	_ = blockCmd.MarkFlagRequired("reason")
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
}
