package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/template"
	"github.com/happy-code-egg/ruidao-sub002/internal/config"
	"github.com/happy-code-egg/ruidao-sub002/internal/container"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/repository"
	"github.com/happy-code-egg/ruidao-sub002/pkg/utils"
)

var listAll bool

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage workflow templates",
}

var templatesImportCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Import YAML template definitions; changed definitions become new versions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTemplateStore(cmd.Context(), func(cfg *config.Config, store *template.Store) error {
			dir := cfg.Workflow.TemplatesDir
			if len(args) == 1 {
				dir = args[0]
			}

			defs, err := template.LoadDir(dir)
			if err != nil {
				return err
			}
			results, err := store.Import(cmd.Context(), defs)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tID\tVERSION\tOUTCOME")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.Code, r.ID, r.Version, r.Outcome)
			}
			return w.Flush()
		})
	},
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTemplateStore(cmd.Context(), func(_ *config.Config, store *template.Store) error {
			tpls, err := store.List(cmd.Context(), !listAll)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tVERSION\tBUSINESS TYPE\tNODES\tACTIVE\tNAME")
			for _, t := range tpls {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%t\t%s\n",
					t.ID, t.Code, t.Version, t.BusinessType, len(t.Nodes), t.Active, t.Name)
			}
			return w.Flush()
		})
	},
}

func init() {
	templatesListCmd.Flags().BoolVar(&listAll, "all", false, "include retired versions")
	templatesCmd.AddCommand(templatesImportCmd, templatesListCmd)
}

// withTemplateStore opens a migrated database and runs fn against a template store over it
func withTemplateStore(ctx context.Context, fn func(*config.Config, *template.Store) error) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg.Database.AutoMigrate = true
	bundle, err := container.ProvideDatabase(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := bundle.DB.Close(); cerr != nil {
			logger.Warn("Failed to close database", zap.Error(cerr))
		}
	}()

	store, err := template.NewStore(
		repository.NewTemplateRepository(bundle.Store, logger),
		bundle.Store,
		cfg.Workflow.Rules,
		utils.NewKVLogger(logger),
	)
	if err != nil {
		return err
	}

	return fn(cfg, store)
}
