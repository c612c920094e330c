package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sploot/media-clustering/cmd/sploot-media/commands"
	"github.com/sploot/media-clustering/logger"
)

var rootCmd = &cobra.Command{
	Use:   "sploot-media",
	Short: "Sploot media clustering pipeline",
	Long: `Sploot media clustering - groups pet images into visually coherent
clusters from their embeddings.

Available commands:
  serve   - Start the job submission and cluster state API
  worker  - Start a clustering worker consuming the job stream
  version - Show build information

Examples:
  sploot-media serve              # Start the front door API
  sploot-media worker             # Start one stream consumer
  sploot-media worker --json-logs # Structured log output for collectors`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON log output instead of console format")
	rootCmd.PersistentFlags().String("config", "", "Path to a configuration file (overrides the default search paths)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
