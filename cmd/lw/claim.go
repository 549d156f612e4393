package main

import (
	"github.com/spf13/cobra"
	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/legality"
	"github.com/steveyegge/laneway/internal/types"
)

var claimCmd = &cobra.Command{
	Use:   "claim <wu-id>",
	Short: "Claim a ready work unit and create its worktree",
	Long: `Claim a WU for this agent: check the lane's WIP limit, verify trunk
freshness, then create the lane branch and worktree. Run from the main
checkout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := types.NormalizeID(args[0])
		snap, err := snapshot(id)
		if err != nil {
			return err
		}
		if err := requireLegal(legality.CmdClaim, snap); err != nil {
			return err
		}

		cfg, err := loadConfig(snap)
		if err != nil {
			return err
		}
		mgr := newManager(snap, cfg)

		mode := cfg.DefaultMode
		if s, _ := cmd.Flags().GetString("mode"); s != "" {
			mode, err = types.ParseClaimedMode(s)
			if err != nil {
				return err
			}
		}

		lane := cfg.Lane(snap.Wu.Record.Lane)
		res, err := mgr.Claim(rootCtx, id, lane, mode)
		if err != nil {
			return err
		}
		printWarnings(res.Warnings)
		debug.PrintNormal("Claimed %s on %s (%s mode)\n", res.Record.ID, res.Branch, res.Record.ClaimedMode)
		debug.PrintNormal("Next: cd %s\n", res.WorktreePath)
		return nil
	},
}

func init() {
	claimCmd.Flags().StringP("mode", "m", "", "Claim mode: direct or pr (default from config)")
	rootCmd.AddCommand(claimCmd)
}
