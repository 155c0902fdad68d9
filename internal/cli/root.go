package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcoot/bunker/internal/cache"
	"github.com/mcoot/bunker/internal/logging"
)

var (
	cfg        *Config
	client     *Client
	localCache *cache.LobbyCache
	logger     *slog.Logger
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "bunker",
		Short: "CLI tool for the Bunker lobby API",
		Long: `bunker is a CLI tool for interacting with the Bunker lobby server.

It covers player sign-in, lobby create/join/leave/delete, reconnecting to
the lobby you were last in, and watching a lobby's player list live over
the websocket change feed or raw server-sent events.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load token from file if not provided via flag/env
			if err := cfg.LoadToken(); err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger = logging.New(os.Stderr, logging.FormatText, level)

			client = NewClient(cfg.ServerURL, cfg.Token)
			localCache = cfg.LoadCache()
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: BUNKER_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.Token, "token", cfg.Token, "Session token (env: BUNKER_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "Token file path (env: BUNKER_TOKEN_FILE)")
	rootCmd.PersistentFlags().StringVar(&cfg.CacheFile, "cache-file", cfg.CacheFile, "Local lobby cache path (env: BUNKER_CACHE_FILE)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(newPlayerCmd())
	rootCmd.AddCommand(newLobbyCmd())
	rootCmd.AddCommand(newReconnectCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// saveCache persists the local lobby cache. Failures are logged only.
func saveCache() {
	if err := localCache.Save(cfg.CacheFile); err != nil {
		logger.Warn("failed to save lobby cache", slog.String("path", cfg.CacheFile), slog.Any("error", err))
	}
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
