package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/internal/config"
)

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	DryRun bool
}

// PruneResult is the outcome of one pruning pass.
type PruneResult struct {
	CutoffMs       int64 `json:"cutoff_ms"`
	Removed        int64 `json:"removed"`
	BatchesRemoved int64 `json:"batches_removed"`
	DryRun         bool  `json:"dry_run"`
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove ledger and batch audit entries older than the retention window",
		Long: `Run one retention pass over the idempotency ledger and the batch
audit log, as the worker does on every tick.

Examples:
  syncctl prune
  syncctl prune --dry-run --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the cutoff without deleting")

	return cmd
}

func runPrune(cmd *cobra.Command, opts *PruneOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		return WrapExitError(ExitCommandError, "prune requires the postgres storage driver", nil)
	}

	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer storage.Close()

	retention := storage.NewRetention(cfg)
	result := PruneResult{CutoffMs: retention.Cutoff(), DryRun: opts.DryRun}

	if !opts.DryRun {
		stats, err := retention.RunOnce(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "prune failed", err)
		}
		result.CutoffMs = stats.CutoffMs
		result.Removed = stats.Ops
		result.BatchesRemoved = stats.Batches
	}

	return opts.output(cmd).emit(result, func(w io.Writer) {
		cutoff := time.UnixMilli(result.CutoffMs).UTC().Format(time.RFC3339)
		if result.DryRun {
			fmt.Fprintf(w, "would remove ledger and batch entries before %s\n", cutoff)
			return
		}
		fmt.Fprintf(w, "removed %d ledger entries and %d batches before %s\n",
			result.Removed, result.BatchesRemoved, cutoff)
	})
}
