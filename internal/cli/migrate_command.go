package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eringen/seocontrol"
)

func NewMigrateCommand(globalOptions *GlobalOptions) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		Long:  `Manage database schema versions. Use subcommands 'up', 'down', or 'status'.`,
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Migrate the database to the most recent version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, globalOptions, "up")
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the database by one version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, globalOptions, "down")
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Dump the migration status for the current DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, globalOptions, "status")
		},
	}

	migrateCmd.AddCommand(upCmd)
	migrateCmd.AddCommand(downCmd)
	migrateCmd.AddCommand(statusCmd)

	return migrateCmd
}

// runMigration opens the store, which applies pending migrations, and then
// runs command against it.
func runMigration(cmd *cobra.Command, globalOptions *GlobalOptions, command string) error {
	a, err := globalOptions.openApp()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	globalOptions.Logger.WithField("command", command).Info("Running migration command")

	var migErr error
	switch command {
	case "up":
		migErr = a.Store.Migrate(ctx)
	case "down":
		migErr = a.Store.MigrateDown(ctx)
	case "status":
		migErr = a.Store.MigrationStatus(ctx)
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
	if migErr != nil {
		return fmt.Errorf("migration failed: %w", migErr)
	}

	globalOptions.Logger.Info("Migration operation completed successfully")
	return nil
}

// NewInstallCommand writes the default homepage settings and the install
// markers. Running it again keeps stored values.
func NewInstallCommand(globalOptions *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Create the schema and default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := globalOptions.openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Install(cmd.Context())
		},
	}
}

func NewUninstallCommand(globalOptions *GlobalOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove every stored override and setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("uninstall deletes all overrides; pass --yes to confirm")
			}
			a, err := globalOptions.openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Uninstall(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm removal of all overrides.")
	return cmd
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the seocontrol version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("seocontrol %s\n", seocontrol.Version)
		},
	}
}
