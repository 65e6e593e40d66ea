package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nevindra/shiftlog/internal/config"
)

var configPath string

// newRootCmd builds the shiftlog command tree, following the pack's own
// cobra convention (divinesense/cmd/divinesense) of one rootCmd carrying
// persistent flags and child commands added in an init-style builder
// instead of package-level init().
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shiftlog",
		Short:         "Generate activity digests from a Slack workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to shiftlog.toml (default: OS config dir)")

	root.AddCommand(newSummarizeCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newConfigureCmd())
	return root
}

// loadConfig loads and validates configuration, then installs a logger at
// the configured level as slog's default, matching the teacher's habit of
// treating slog.Default() as the ambient logger every component falls back
// to (aggregate.New, summarize.New).
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	})))
	return cfg, nil
}

func logLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
