package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kumascript/internal/common/logging"
	"kumascript/internal/config"
)

// Bootstrap loads .env, initializes logging and returns the validated
// configuration
func Bootstrap() (*config.Config, error) {
	_ = godotenv.Load()

	if err := logging.InitGlobalLogger(); err != nil {
		return nil, err
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return nil, err
	}
	return cfg, nil
}

// Run serves HTTP until SIGINT or SIGTERM
func Run() error {
	cfg, err := Bootstrap()
	if err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting kumascript",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "port", Value: cfg.Port},
	)

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv := app.Server()
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
