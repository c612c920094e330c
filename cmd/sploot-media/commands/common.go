package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sploot/media-clustering/config"
	"github.com/sploot/media-clustering/errors"
	"github.com/sploot/media-clustering/redisclient"
	"github.com/sploot/media-clustering/state"
	"github.com/sploot/media-clustering/stream"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// loadSettings resolves configuration, honoring an explicit --config path.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// connect opens the shared redis client and builds the queue and state
// store over it.
func connect(ctx context.Context, cfg *config.Settings, logger *zap.SugaredLogger) (*redis.Client, *stream.Queue, *state.Store, error) {
	rdb, err := redisclient.New(cfg.Redis)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := redisclient.Ping(ctx, rdb); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, errors.Wrap(err, "redis is unreachable")
	}

	queue := stream.NewQueue(rdb, cfg.Stream, logger)
	store := state.NewStore(rdb, cfg.Cluster.Namespace, cfg.Cluster.StateTTL())
	return rdb, queue, store, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
