package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/internal/infrastructure/storage/postgres"
)

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *postgres.Pool) error {
				if err := postgres.Migrate(ctx, pool); err != nil {
					return WrapExitError(ExitFailure, "migration failed", err)
				}
				return rootOpts.output(cmd).emit(map[string]string{"status": "migrated"}, func(w io.Writer) {
					_, _ = io.WriteString(w, "migrations applied\n")
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Log the applied state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *postgres.Pool) error {
				if err := postgres.MigrationStatus(ctx, pool); err != nil {
					return WrapExitError(ExitFailure, "migration status failed", err)
				}
				return nil
			})
		},
	})

	return cmd
}

func withPool(ctx context.Context, fn func(ctx context.Context, pool *postgres.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := app.OpenPool(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer pool.Close()
	return fn(ctx, pool)
}
