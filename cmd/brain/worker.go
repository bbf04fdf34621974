package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"brain/internal/logging"
	"brain/internal/tasks"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task worker pool",
	Long: `Starts a pool of workers draining the task queue. Each worker runs the
full agent pipeline for ingestion tasks and is recycled after a fixed number
of jobs. Stop with SIGINT/SIGTERM; unacked jobs return to the queue.`,
	RunE: runWorker,
}

var workerMetricsAddr string

func init() {
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if workerMetricsAddr != "" {
		cfg.Worker.MetricsAddr = workerMetricsAddr
	}

	env, err := buildEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	var metricsSrv *http.Server
	if cfg.Worker.MetricsAddr != "" {
		env.Metrics = tasks.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", env.Metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.Worker.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	logger.Info("worker pool starting",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("data_dir", cfg.DataDir))
	logging.Boot("worker pool starting with concurrency=%d", cfg.Worker.Concurrency)

	err = tasks.NewPool(env).Run(ctx)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	fmt.Println(okStyle.Render("worker pool stopped"))
	return nil
}
