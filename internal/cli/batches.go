package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/internal/config"
)

// BatchesOptions holds flags for the batches command.
type BatchesOptions struct {
	*RootOptions
	DeviceID string
	Limit    uint64
	Payload  bool
}

// BatchSummary is one audited batch as printed by the batches command.
type BatchSummary struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	At         time.Time `json:"at"`
	CursorMs   int64     `json:"cursor_ms"`
	Operations int       `json:"operations"`
	Claimed    int       `json:"claimed"`
	Written    int       `json:"written"`
	Changes    int       `json:"changes"`
	Payload    string    `json:"payload,omitempty"`
}

// NewBatchesCommand creates the batches command.
func NewBatchesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List recently reconciled batches from the audit log",
		Long: `List the newest entries of the batch audit log.

Examples:
  syncctl batches --limit 20
  syncctl batches --device tablet-3 --payload --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatches(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DeviceID, "device", "", "only batches from this device")
	cmd.Flags().Uint64Var(&opts.Limit, "limit", 10, "maximum number of batches")
	cmd.Flags().BoolVar(&opts.Payload, "payload", false, "include the decompressed operations")

	return cmd
}

func runBatches(cmd *cobra.Command, opts *BatchesOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		return WrapExitError(ExitCommandError, "batches requires the postgres storage driver", nil)
	}

	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer storage.Close()

	entries, err := storage.BatchLog.Recent(ctx, opts.DeviceID, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read batch log", err)
	}

	summaries := make([]BatchSummary, len(entries))
	for i, e := range entries {
		summaries[i] = BatchSummary{
			ID:         e.ID.String(),
			UserID:     e.UserID,
			DeviceID:   e.DeviceID,
			At:         time.UnixMilli(e.ServerNowMs).UTC(),
			CursorMs:   e.CursorMs,
			Operations: e.Operations,
			Claimed:    e.Claimed,
			Written:    e.Written,
			Changes:    e.Changes,
		}
		if opts.Payload {
			summaries[i].Payload = string(e.Payload)
		}
	}

	return opts.output(cmd).emit(summaries, func(w io.Writer) {
		writeBatchTable(w, summaries)
	})
}

func writeBatchTable(w io.Writer, summaries []BatchSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tDEVICE\tUSER\tOPS\tCLAIMED\tWRITTEN\tCHANGES")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			s.At.Format(time.RFC3339), s.DeviceID, s.UserID,
			s.Operations, s.Claimed, s.Written, s.Changes)
		if s.Payload != "" {
			fmt.Fprintf(tw, "\t%s\n", s.Payload)
		}
	}
	_ = tw.Flush()
}
