package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/steveyegge/laneway/internal/config"
	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/legality"
	"github.com/steveyegge/laneway/internal/lifecycle"
	"github.com/steveyegge/laneway/internal/resolver"
	"github.com/steveyegge/laneway/internal/telemetry"
	"github.com/steveyegge/laneway/internal/types"
	"github.com/steveyegge/laneway/internal/wstate"
)

var (
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// commandRules is the static legality registry; every lifecycle
	// command validates against it before touching any state.
	commandRules = legality.NewRegistry()
)

var rootCmd = &cobra.Command{
	Use:   "lw",
	Short: "lw - Work-unit coordination for parallel agents",
	Long: `Coordinates work units (WUs) across autonomous agents sharing one
repository: lane-scoped claims with WIP limits, worktree-per-WU isolation,
and completion published to trunk with conflict-aware retry.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("lw version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		if verboseFlag {
			debug.SetVerbose(true)
		}
		if quietFlag {
			debug.SetQuiet(true)
		}
		if err := telemetry.Init(rootCtx, "lw", Version); err != nil {
			debug.Warnf("telemetry init failed: %v\n", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(rootCtx)
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

// snapshot resolves the caller's full context for an optional WU id.
func snapshot(wuID string) (*types.Context, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getwd: %w", err)
	}
	return resolver.New().Snapshot(rootCtx, cwd, wuID)
}

// repoRoot picks the main checkout when the resolver found one, otherwise
// falls back to the current repo root or directory. Lifecycle operations
// that genuinely need the main checkout enforce that via legality, not
// here.
func repoRoot(snap *types.Context) string {
	if snap.Location.MainCheckoutPath != "" {
		return snap.Location.MainCheckoutPath
	}
	if snap.Location.RepoRoot != "" {
		return snap.Location.RepoRoot
	}
	return snap.Location.Cwd
}

func loadConfig(snap *types.Context) (*config.Config, error) {
	return config.Load(repoRoot(snap))
}

func newManager(snap *types.Context, cfg *config.Config) *lifecycle.Manager {
	opts := []lifecycle.Option{
		lifecycle.WithRemote(cfg.Remote, cfg.Trunk),
		lifecycle.WithRetryPolicy(cfg.Retry),
		lifecycle.WithMetadataAllowlist(cfg.MetadataAllowlist),
	}
	if len(cfg.DocsAllowlist) > 0 {
		opts = append(opts, lifecycle.WithDocsAllowlist(cfg.DocsAllowlist))
	}
	return lifecycle.NewManager(repoRoot(snap), opts...)
}

// legalityError wraps a failed validation so the exit-code mapping can
// distinguish "illegal right now" from operational failures.
type legalityError struct {
	name   string
	result legality.Result
}

func (e *legalityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is not valid here", e.name)
	for _, issue := range e.result.Errors {
		b.WriteString("\n  " + issue.Message)
		if issue.Fix != "" {
			b.WriteString("\n    fix: " + issue.Fix)
		}
	}
	return b.String()
}

// requireLegal validates a command against the context snapshot. Warnings
// print but do not block.
func requireLegal(name string, snap *types.Context) error {
	res := commandRules.Validate(name, snap)
	for _, issue := range res.Warnings {
		debug.Warnf("%s\n", issue.Message)
	}
	if !res.Valid {
		return &legalityError{name: name, result: res}
	}
	return nil
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}

// exitCode maps typed core errors to process exit codes. This is the only
// layer that knows about exit codes; the core packages return errors.
func exitCode(err error) int {
	var (
		illegal   *legalityError
		status    *lifecycle.WrongStatusError
		capacity  *wstate.LaneAtCapacityError
		outOfSync *lifecycle.TrunkOutOfSyncError
		staged    *lifecycle.StagedFileError
	)
	switch {
	case errors.As(err, &illegal),
		errors.As(err, &status),
		errors.Is(err, types.ErrWuNotFound),
		errors.Is(err, wstate.ErrLaneLocked):
		return 2
	case errors.As(err, &capacity):
		return 3
	case errors.As(err, &outOfSync):
		return 4
	case errors.As(err, &staged):
		return 5
	case lifecycle.IsRetryExhaustion(err):
		return 6
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
