package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sploot/media-clustering/engine"
	"github.com/sploot/media-clustering/errors"
	"github.com/sploot/media-clustering/insights"
	"github.com/sploot/media-clustering/logger"
	"github.com/sploot/media-clustering/metrics"
	"github.com/sploot/media-clustering/worker"
)

// WorkerCmd starts a clustering worker.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a clustering worker consuming the job stream",
	Long: `Start one stream consumer. The worker joins the configured consumer
group, processes clustering jobs at-least-once, and exposes prometheus
metrics when enabled. Run several workers with distinct --consumer names
to scale out.`,
	RunE: runWorker,
}

var workerConsumerName string

func init() {
	WorkerCmd.Flags().StringVar(&workerConsumerName, "consumer", "", "Consumer name within the group (defaults to the configured name)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if workerConsumerName != "" {
		cfg.Stream.ConsumerName = workerConsumerName
	}
	log := logger.Named("worker")

	ctx, cancel := signalContext()
	defer cancel()

	rdb, queue, store, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Metrics.Port, m, log)
	}

	w := worker.New(
		queue,
		store,
		insights.NewClient(cfg.Insights, log),
		engine.New(cfg.Cluster),
		m,
		cfg.Stream,
		log,
	)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infow("worker stopped")
	return nil
}

// startMetricsServer serves the scrape endpoint in the background and
// shuts it down with the worker.
func startMetricsServer(ctx context.Context, port int, m *metrics.Metrics, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		log.Infow("metrics server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
