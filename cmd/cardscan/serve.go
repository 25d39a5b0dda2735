package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/cardscan/internal/camera"
	"github.com/GriffinCanCode/cardscan/internal/config"
	"github.com/GriffinCanCode/cardscan/internal/metrics"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/audit"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/stability"
	"github.com/GriffinCanCode/cardscan/internal/queue"
	"github.com/GriffinCanCode/cardscan/internal/server"
)

const shutdownTimeout = 5 * time.Second

var serveOpts struct {
	noCamera   bool
	withWorker bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket feed and camera loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveOpts.noCamera, "no-camera", false, "disable the camera loop (uploads and text only)")
	serveCmd.Flags().BoolVar(&serveOpts.withWorker, "with-worker", false, "also consume the persistence queue in this process")
}

func runServe(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(nil)

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	orch, err := buildOrchestrator(cfg, c, m)
	if err != nil {
		return err
	}

	mcfg := orchestrator.ManagerConfig{
		Orchestrator:     orch,
		Detector:         stability.NewDetector(cfg.StabilityThreshold, cfg.StableFrames),
		SamplingInterval: cfg.SamplingInterval,
		SceneTTL:         cfg.DuplicateCooldown,
		History:          c.history(),
		Metrics:          m,
	}
	if !serveOpts.noCamera {
		mcfg.Capturer = camera.New(cfg.CameraDevice)
	}
	if c.store != nil {
		mcfg.Audit = audit.NewBatcher(c.store, orchestrator.AuditBatchSize, orchestrator.AuditFlushDelay)
	}
	mgr := orchestrator.NewManager(mcfg)

	opts := []server.Option{server.WithMetricsHandler(promhttp.Handler())}
	if c.store != nil {
		opts = append(opts, server.WithCardStore(c.store))
	}
	srv := server.New(mgr, opts...)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	mgr.Start(ctx)

	g.Go(func() error {
		slog.Info("cardscan server starting",
			"http", cfg.HTTPAddr,
			"ocr", cfg.OCRProvider,
			"ai", cfg.AIEnabled,
			"persist", cfg.PersistMode,
			"camera", mcfg.Capturer != nil,
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if serveOpts.withWorker && cfg.PersistMode == config.PersistQueue && c.store != nil {
		w, err := queue.NewWorker(cfg.RedisURL, cfg.QueueConcurrency, queue.NewHandler(c.store, m))
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		mgr.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
