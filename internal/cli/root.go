// Package cli provides the command-line interface for pad-i.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/Pad-i/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
	logLevel   string

	cfg      config.Config
	logger   = zap.NewNop()
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "padi",
	Short: "Conversational assistant with a fallback chain of language models",
	Long: `Pad-i keeps per-user conversations, builds a bounded context window from
the stored history and asks a prioritized chain of language model back ends
for each reply. When every back end fails the user still gets an answer.

Configuration comes from defaults, an optional YAML file (--config or
PADI_CONFIG) and environment variables, in that order.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		path := configPath
		if path == "" {
			path = os.Getenv("PADI_CONFIG")
		}
		loaded, err := config.LoadFrom(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		l, cleanup, err := config.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		logger, closeLog = l, cleanup
		return nil
	},
}

// Execute runs the root command and flushes the logger afterwards.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if closeLog != nil {
		err = multierr.Append(err, closeLog())
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides PADI_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(conversationsCmd)
}

func defaultOwner() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
