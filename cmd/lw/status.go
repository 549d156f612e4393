package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [wu-id]",
	Short: "Show the current context and what is legal to do next",
	Long: `Report where you are (main checkout, worktree, or neither), the WU's
resolved state, and which lifecycle commands are valid right now. Always
legal; never modifies state.`,
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

		if jsonOutput {
			return printStatusJSON(snap)
		}
		printStatusHuman(snap)
		return nil
	},
}

type statusView struct {
	Location     types.LocationContext `json:"location"`
	Repo         types.RepoState       `json:"repo"`
	Wu           *types.WuInfo         `json:"wu,omitempty"`
	Session      types.SessionState    `json:"session"`
	ValidActions []string              `json:"validActions"`
}

func printStatusJSON(snap *types.Context) error {
	view := statusView{
		Location:     snap.Location,
		Repo:         snap.Repo,
		Wu:           snap.Wu,
		Session:      snap.Session,
		ValidActions: commandRules.ValidCommands(snap),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func printStatusHuman(snap *types.Context) {
	switch snap.Location.Type {
	case types.LocationMain:
		fmt.Printf("Location: main checkout (%s)\n", snap.Location.RepoRoot)
	case types.LocationWorktree:
		fmt.Printf("Location: worktree %s\n", snap.Location.WorktreeName)
	default:
		fmt.Println("Location: not inside a managed repository")
	}

	state := "clean"
	if !snap.Repo.Clean() {
		state = "dirty"
	}
	if snap.Repo.Branch != "" {
		fmt.Printf("Branch: %s (%s)\n", snap.Repo.Branch, state)
	}

	if snap.Wu != nil {
		rec := snap.Wu.Record
		fmt.Printf("WU: %s [%s] lane=%s", rec.ID, rec.Status, rec.Lane)
		if rec.Title != "" {
			fmt.Printf(" %q", rec.Title)
		}
		fmt.Println()
		if rec.Status == types.StatusBlocked {
			fmt.Printf("Blocked: %s\n", rec.BlockedReason)
		}
		if !snap.Wu.IsConsistent {
			fmt.Printf("State inconsistent: %s (run: lw recover %s)\n",
				snap.Wu.InconsistencyReason, rec.ID)
		}
		if debug.Enabled() {
			fmt.Printf("Record: %s\n", snap.Wu.RecordPath)
		}
	}

	if valid := commandRules.ValidCommands(snap); len(valid) > 0 {
		fmt.Printf("Valid now: %s\n", strings.Join(valid, ", "))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
