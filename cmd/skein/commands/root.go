package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Global flags
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "skein",
	Short: "Chat orchestration server",
	Long: `skein - a streaming chat server that stages each request through
context building, summarization, and generation, multiplexed over a
single response stream.

Model backends are declared in a config directory (one YAML/JSON file
per provider); token usage is recorded per chat in a local ledger.

Examples:
  # Run the server
  skein serve --config skein.yaml

  # List the models a config directory would register
  skein models --models ./models

  # Inspect recorded token usage
  skein usage --db ./data/ledger
  skein usage --db ./data/ledger chat-42`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
