package commands

import (
	"fmt"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/database"
	"rwaadmin/internal/repository"
	"rwaadmin/internal/service"

	"github.com/spf13/cobra"
)

func newPolicyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage approval policies",
	}
	cmd.AddCommand(
		newPolicyValidateCmd(),
		newPolicyImportCmd(opts),
	)
	return cmd
}

func newPolicyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.yaml>",
		Short: "Check a policy file without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := approval.LoadPolicies(args[0])
			if err != nil {
				return err
			}
			if _, err := approval.NewStaticResolver(policies...); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range policies {
				fmt.Fprintf(out, "%-45s %-6s %d of %v\n", p.ActionClass, p.QuorumMode, p.QuorumThreshold, p.AuthorizedRoles)
			}
			fmt.Fprintf(out, "%d policies OK\n", len(policies))
			return nil
		},
	}
}

func newPolicyImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert every policy in a YAML file into the database",
		Long:  "Upserts policies in one transaction. Each imported policy gets a new version; open requests keep their snapshot.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := approval.LoadPolicies(args[0])
			if err != nil {
				return err
			}
			db, err := database.NewConnection(opts.cfg.Database.DSN(), database.Options{})
			if err != nil {
				return err
			}
			svc := service.NewPolicyService(repository.NewPolicyRepository(db), repository.NewAuditRepository(db), repository.NewTransactionManager(db))
			n, err := svc.ImportPolicies(cmd.Context(), "", policies)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d policies from %s\n", n, args[0])
			return nil
		},
	}
}
