// Package cli is the paygate command line: the HTTP service and the operator
// commands that share its configuration and order store.
package cli

import (
	"fmt"
	"os"

	"github.com/cimillas/paygate/internal/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	version    string
	configFile string
	// envSearchDir is handed to config.Load; "-" disables the .env search.
	envSearchDir string
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: o.configFile,
		SearchDir:  o.envSearchDir,
	})
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewRootCommand builds the paygate command tree.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&rootOptions{version: version})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "paygate",
		Short: "Payment order reconciliation service",
		Long: `paygate keeps local payment orders in step with the payment gateway.

It accepts signed gateway webhooks, serves order status to polling clients and
exposes operator commands for cancellation and forced reconciliation.`,
		Version:       opts.version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (environment variables take precedence)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newReconcileCmd(opts),
		newCancelCmd(opts),
		newAdminTokenCmd(opts),
	)
	return root
}

// Execute runs the command tree and prints any error to stderr.
func Execute(version string) error {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
