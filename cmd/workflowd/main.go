// Command workflowd runs the approval workflow service and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/config"
	"github.com/happy-code-egg/ruidao-sub002/pkg/utils"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "workflowd",
	Short:         "Approval workflow engine for case, contract and billing records",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml",
		"path to the YAML configuration file; WORKFLOW_* environment variables override it")

	rootCmd.AddCommand(serveCmd, migrateCmd, templatesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the root logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger, nil
}
