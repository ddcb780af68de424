package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trailhead/trailimport/internal/api"
	"github.com/trailhead/trailimport/internal/app"
	"github.com/trailhead/trailimport/internal/config"
	"github.com/trailhead/trailimport/internal/logger"
)

func main() {
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH overrides the ./configs lookup in deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLogger.WithError(err).Warn("Failed to close application cleanly")
		}
	}()

	// Fill an empty or sparse trail table in the background.
	if res, err := a.Bootstrapper.CheckAndBootstrap(ctx); err != nil {
		appLogger.WithError(err).Warn("Startup bootstrap check failed")
	} else {
		appLogger.WithFields(logger.Fields{
			"current_count":   res.CurrentCount,
			"needed":          res.Needed,
			"triggered":       res.Triggered,
			logger.FieldJobID: res.JobID,
		}).Info("Startup bootstrap check finished")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.SetupRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
