package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/clock"
	"github.com/cimillas/paygate/internal/config"
	transporthttp "github.com/cimillas/paygate/internal/transport/http"
	"github.com/spf13/cobra"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <order-id>",
		Short: "Pull the gateway status of an order and apply it",
		Long: `Force a live reconciliation of one order against the payment gateway,
ignoring the status poll interval. Use it for orders flagged as conflicts.

Examples:
  paygate reconcile ORD123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, opts, true, func(ctx context.Context, svc *app.AdminService) error {
				res, err := svc.ForceReconcile(ctx, args[0])
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), args[0], res)
				return nil
			})
		},
	}
}

func newCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an order that has not settled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, opts, false, func(ctx context.Context, svc *app.AdminService) error {
				order, err := svc.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", order.MerchantOrderID, order.Status)
				return nil
			})
		},
	}
}

func newAdminTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Issue a bearer token for the admin endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.AdminJWTSecret == "" {
				return errors.New("ADMIN_JWT_SECRET is not set")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			token, err := transporthttp.IssueAdminToken(cfg.AdminJWTSecret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func withAdmin(cmd *cobra.Command, opts *rootOptions, needGateway bool, fn func(ctx context.Context, svc *app.AdminService) error) error {
	return withStore(cmd.Context(), opts, func(ctx context.Context, cfg config.Config, store *orderStore) error {
		logger, err := newLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		gw := newGatewayClient(cfg, logger)
		if needGateway && gw == nil {
			return errors.New("GATEWAY_BASE_URL and GATEWAY_APP_ID are required")
		}
		reconciler := newReconciler(cfg, store, gw, clock.NewSystem(), logger)
		return fn(ctx, app.NewAdminService(store, gw, reconciler))
	})
}

func printResult(w io.Writer, id string, res app.ReconcileResult) {
	switch res.Outcome {
	case app.OutcomeApplied:
		fmt.Fprintf(w, "%s: %s -> %s (%d attempt(s))\n", id, res.Previous, res.Current, res.Attempts)
	case app.OutcomeUnchanged:
		status := res.Current
		if status == "" && res.Order != nil {
			status = res.Order.Status
		}
		fmt.Fprintf(w, "%s: unchanged (%s)\n", id, status)
	default:
		fmt.Fprintf(w, "%s: %s\n", id, res.Outcome)
	}
}
