package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/happy-code-egg/ruidao-sub002/internal/container"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if cfg.Logger.Level == "debug" {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}

		logger.Info("Starting workflow service",
			zap.String("version", version),
			zap.String("database", cfg.Database.Driver),
			zap.Int("port", cfg.Server.Port))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := container.NewContainer(cfg, logger)
		if err != nil {
			return err
		}
		if err := c.Start(ctx); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return c.Server().Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down")
			return nil
		})

		serveErr := g.Wait()
		if err := c.Close(); err != nil {
			logger.Error("Shutdown finished with errors", zap.Error(err))
		}
		if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
			return serveErr
		}

		logger.Info("Server exited")
		return nil
	},
}
