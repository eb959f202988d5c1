// Package cli implements the interviewd command line.
package cli

import (
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "interviewd",
	Short: "Run structured interviews over HTTP or in the terminal",
	Long: `interviewd runs structured interviews: it draws questions from a topic
catalog, scores each answer and asks follow-ups, either preset or generated.
Without a subcommand it serves the HTTP and WebSocket API.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}
	},
	RunE: runServe,
}

func init() {
	rootCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides PORT)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
