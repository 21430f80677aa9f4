package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/cloudthistle/era5-etl/internal/adapter/http"
	"github.com/cloudthistle/era5-etl/internal/config"
	"github.com/cloudthistle/era5-etl/internal/domain"
	"github.com/cloudthistle/era5-etl/internal/observability"
	"github.com/cloudthistle/era5-etl/internal/orchestrate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	registry, err := domain.NewRegistry(nil)
	if err != nil {
		logger.Error("invalid column registry", "error", err)
		os.Exit(1)
	}

	orch := orchestrate.New(cfg, registry, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics listener is feature-flagged via METRICS_ADDR. A batch run on a
	// workstation does not need one.
	var srv *httpadapter.Server
	if cfg.MetricsAddr != "" {
		gate := &httpadapter.ReadyGate{}
		orch.SetReadyCallback(gate.MarkReady)
		srv = httpadapter.NewServer(cfg.MetricsAddr, gate, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	summary, runErr := orch.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		cancel()
	}

	if runErr != nil {
		logger.Error("pipeline run failed", "error", runErr)
		os.Exit(1)
	}
	if summary.UnitsJoined == 0 {
		logger.Error("pipeline produced no joined outputs")
		os.Exit(1)
	}
}
