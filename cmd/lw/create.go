package main

import (
	"github.com/spf13/cobra"
	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/legality"
)

var createCmd = &cobra.Command{
	Use:   "create <wu-id>",
	Short: "Create a new work unit in the ready state",
	Long: `Create a WU record under .laneway/wu/ and register it in the durable
status store. The WU starts ready; claim it to start work.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lane, _ := cmd.Flags().GetString("lane")
		title, _ := cmd.Flags().GetString("title")
		paths, _ := cmd.Flags().GetStringArray("path")
		deps, _ := cmd.Flags().GetStringArray("dep")

		snap, err := snapshot("")
		if err != nil {
			return err
		}
		if err := requireLegal(legality.CmdCreate, snap); err != nil {
			return err
		}

		cfg, err := loadConfig(snap)
		if err != nil {
			return err
		}
		mgr := newManager(snap, cfg)

		rec, err := mgr.Create(rootCtx, args[0], lane, title, paths, deps)
		if err != nil {
			return err
		}
		debug.PrintNormal("Created %s (lane %s, ready)\n", rec.ID, rec.Lane)
		debug.PrintNormal("Next: lw claim %s\n", rec.ID)
		return nil
	},
}

func init() {
	createCmd.Flags().StringP("lane", "l", "", "Lane the WU belongs to")
	createCmd.Flags().StringP("title", "t", "", "One-line description")
	createCmd.Flags().StringArray("path", nil, "Code path the WU expects to touch (repeatable)")
	createCmd.Flags().StringArray("dep", nil, "WU id this WU depends on (repeatable)")
	_ = createCmd.MarkFlagRequired("lane")
	rootCmd.AddCommand(createCmd)
}
