package commands

import (
	"github.com/spf13/cobra"

	"github.com/sploot/media-clustering/logger"
	"github.com/sploot/media-clustering/server"
)

// ServeCmd starts the submission front door.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the job submission and cluster state API",
	Long: `Start the HTTP front door. It accepts clustering job submissions,
serves persisted cluster state, and exposes health probes. All /internal
routes require the configured X-Internal-Token shared secret.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log := logger.Named("server")

	ctx, cancel := signalContext()
	defer cancel()

	rdb, queue, store, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	return server.New(queue, store, cfg.Server, log).Run(ctx)
}
