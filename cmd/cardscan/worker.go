package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/cardscan/internal/config"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/metrics"
	"github.com/GriffinCanCode/cardscan/internal/queue"
	"github.com/GriffinCanCode/cardscan/internal/storage"
)

var workerOpts struct {
	metricsAddr string
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued cards and write them to Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context(), cfg)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerOpts.metricsAddr, "metrics-addr", "", "serve /metrics on this address")
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return apperrors.New(apperrors.ConfigMissing, "DATABASE_URL is required by the worker").WithMetadata("key", "DATABASE_URL")
	}
	if cfg.RedisURL == "" {
		return apperrors.New(apperrors.ConfigMissing, "REDIS_URL is required by the worker").WithMetadata("key", "REDIS_URL")
	}

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New(nil)
	w, err := queue.NewWorker(cfg.RedisURL, cfg.QueueConcurrency, queue.NewHandler(store, m))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })

	if workerOpts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		ms := &http.Server{Addr: workerOpts.metricsAddr, Handler: mux}
		g.Go(func() error {
			if err := ms.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return ms.Close()
		})
	}

	slog.Info("cardscan worker starting", "concurrency", cfg.QueueConcurrency, "queue", queue.QueueName)
	return g.Wait()
}
