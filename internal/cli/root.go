// Package cli provides the cobra command tree for catalogd.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toolscout/catalogd/internal/api"
	"github.com/toolscout/catalogd/internal/config"
)

// GlobalOpts holds flags shared by every subcommand.
type GlobalOpts struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCmd creates the root command. Running it without a subcommand
// serves, like `catalogd serve`.
func NewRootCmd() *cobra.Command {
	var opts GlobalOpts
	serve := newServeCmd(&opts)

	rootCmd := &cobra.Command{
		Use:   "catalogd",
		Short: "Tool catalog automation service",
		Long: `catalogd - tool catalog automation service

catalogd discovers tools from an upstream producer, keeps their trending
scores current, checks catalog data quality and serves the catalog and its
operator controls over HTTP.`,
		Version:       api.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}

	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to catalogd.yaml (default: $CATALOGD_CONFIG or ./catalogd.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error (overrides the config file)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		serve,
		newQualityPassCmd(&opts),
		newTriggerCmd(&opts),
		newHealthcheckCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with args, writing to stdout and stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig resolves the config file, applies the environment and sets up
// the default JSON logger on w.
func loadConfig(opts *GlobalOpts, w io.Writer) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.ResolvePath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(api.NewContextHandler(base)))

	if path != "" {
		slog.Info("config loaded", "path", path)
	}
	return cfg, nil
}
