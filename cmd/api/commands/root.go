package commands

import (
	"rwaadmin/internal/config"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile  string
	logLevel string
	cfg      *config.Config
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "api",
		Short:         "RWA tokenization admin backend",
		Long:          `Admin API for real-world asset tokenization: projects, multisig transactions and threshold approvals.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return configureLogger(cfg.Log, opts.logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "Path to a .env file (missing is ignored)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newPolicyCmd(opts),
	)
	return cmd
}
