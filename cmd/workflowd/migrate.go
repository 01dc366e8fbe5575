package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/happy-code-egg/ruidao-sub002/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		db, err := database.New(ctx, cfg.Database.Connection(), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		migrator := database.NewMigrator(db, logger)
		if err := migrator.Up(ctx); err != nil {
			return err
		}

		applied, err := migrator.AppliedVersions(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is at %d applied migrations\n", db.Dialect(), len(applied))
		return nil
	},
}
