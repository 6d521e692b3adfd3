// Package main provides the entry point for the build gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/appforge/gateway/internal/api"
	"github.com/appforge/gateway/internal/artifact"
	"github.com/appforge/gateway/internal/builder"
	"github.com/appforge/gateway/internal/metrics"
	"github.com/appforge/gateway/internal/quota"
	"github.com/appforge/gateway/internal/staging"
	"github.com/appforge/gateway/internal/store"
	pgstore "github.com/appforge/gateway/internal/store/postgres"
	sqlitestore "github.com/appforge/gateway/internal/store/sqlite"
	"github.com/appforge/gateway/pkg/config"
	"github.com/appforge/gateway/pkg/logger"
)

func main() {
	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	log := logger.FromEnv()
	cfg := config.Load()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	stagingArea, err := staging.New(cfg.StagingDir, log.Logger)
	if err != nil {
		log.Error("failed to create staging area", "error", err)
		os.Exit(1)
	}

	artifacts, err := artifact.New(cfg.ArtifactsDir, log.Logger)
	if err != nil {
		log.Error("failed to create artifact store", "error", err)
		os.Exit(1)
	}

	pipeline, err := builder.NewPipeline(&builder.Config{
		WorkDir:        cfg.WorkDir,
		TemplateDir:    cfg.TemplateDir,
		SignerJAR:      cfg.SignerJAR,
		AndroidSDKRoot: cfg.AndroidSDKRoot,
		GradleBin:      cfg.GradleBin,
		JavaBin:        cfg.JavaBin,
		BuildTimeout:   cfg.BuildTimeout,
	}, log.WithComponent("builder").Logger)
	if err != nil {
		log.Error("failed to create build pipeline", "error", err)
		os.Exit(1)
	}

	recorder := metrics.NewRecorder(prom.NewRegistry())
	ledger := quota.NewLedger(st, log.WithComponent("quota").Logger)
	worker := builder.NewWorker(st, pipeline, artifacts, stagingArea, recorder, log.WithComponent("worker").Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := worker.Start(ctx); err != nil {
		log.Error("failed to start queue worker", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg, api.Deps{
		Store:     st,
		Ledger:    ledger,
		Staging:   stagingArea,
		Artifacts: artifacts,
		Notifier:  worker,
		Recorder:  recorder,
	}, log.Logger)

	if err := server.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	// Let the worker finish the job it is on before exiting.
	worker.Wait()

	log.Info("gateway stopped")
}

// openStore selects postgres when DATABASE_URL is set, otherwise the
// embedded SQLite store.
func openStore(cfg *config.Config, log *logger.Logger) (store.Store, error) {
	if cfg.DatabaseDSN != "" {
		return pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
	}
	return sqlitestore.New(cfg.SQLitePath, log.Logger)
}
