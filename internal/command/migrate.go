package command

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/migrations"
	"github.com/eerdenee/nutgiin-delguur-sub001/pkg/logger"
	"github.com/spf13/cobra"
)

// NewMigrateCmd 資料庫遷移
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the listings database schema",
	}

	run := func(action func(*migrations.Migrator, *cobra.Command, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, closer, err := logger.New(cfg.LogOptions())
			if err != nil {
				return err
			}
			defer closer.Close()

			m, err := migrations.New(cfg.PostgresDSN(), log)
			if err != nil {
				return err
			}
			defer m.Close()

			return action(m, cmd, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(m *migrations.Migrator, _ *cobra.Command, _ []string) error {
				return m.Up()
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back one migration",
			RunE: run(func(m *migrations.Migrator, _ *cobra.Command, _ []string) error {
				return m.Down()
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current and latest schema version",
			RunE: run(func(m *migrations.Migrator, cmd *cobra.Command, _ []string) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d latest=%d pending=%d dirty=%t\n",
					status.Current, status.Latest, status.Pending(), status.Dirty)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Mark the schema as being at a version and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(m *migrations.Migrator, _ *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return m.Force(version)
			}),
		},
	)

	return cmd
}
