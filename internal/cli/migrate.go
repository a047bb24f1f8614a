package cli

import (
	"context"
	"fmt"

	"github.com/cimillas/paygate/internal/config"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply the embedded migrations to the database named by DATABASE_URL.

For SQLite databases the schema is created if it does not exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, _ config.Config, store *orderStore) error {
				pending, err := store.pending(ctx)
				if err != nil {
					return err
				}
				if err := store.migrate(ctx); err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				for _, name := range pending {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", store.driver)
				return nil
			})
		},
	}
	cmd.AddCommand(newMigrateStatusCmd(opts))
	return cmd
}

func newMigrateStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations that have not been applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, _ config.Config, store *orderStore) error {
				pending, err := store.pending(ctx)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no pending migrations")
					return nil
				}
				for _, name := range pending {
					fmt.Fprintf(cmd.OutOrStdout(), "pending %s\n", name)
				}
				return nil
			})
		},
	}
}

func withStore(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, cfg config.Config, store *orderStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	openCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	store, err := openStore(openCtx, cfg)
	if err != nil {
		return err
	}
	defer store.close()
	return fn(ctx, cfg, store)
}
