package commands

import (
	"fmt"
	"log/slog"

	"rwaadmin/internal/database"
	"rwaadmin/internal/repository"
	"rwaadmin/internal/service"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var skipSeed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and seed default roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.NewConnection(opts.cfg.Database.DSN(), database.Options{})
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			slog.Info("schema migrated")
			if skipSeed {
				return nil
			}

			roles := service.NewRoleService(repository.NewRoleRepository(db), repository.NewTransactionManager(db))
			if err := roles.SeedDefaultRolesAndPermissions(cmd.Context()); err != nil {
				return fmt.Errorf("seed roles: %w", err)
			}
			slog.Info("default roles and permissions seeded")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipSeed, "skip-seed", false, "Only migrate the schema")
	return cmd
}
