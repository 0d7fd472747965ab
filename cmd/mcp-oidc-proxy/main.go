// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/config"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/server"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session/memory"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session/redis"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session/sqlite"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/version"
)

var (
	flagConfig   string
	flagListen   string
	flagUpstream string
	flagAuthMode string
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:           "mcp-oidc-proxy",
		Short:         "OIDC-authenticating reverse proxy for MCP servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config file")
	root.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides MCP_LISTEN_ADDR)")
	root.Flags().StringVar(&flagUpstream, "upstream", "", "upstream MCP server URL (overrides MCP_UPSTREAM_URL)")
	root.Flags().StringVar(&flagAuthMode, "auth-mode", "", "auth mode: oidc, bearer, or bypass (overrides MCP_AUTH_MODE)")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides MCP_LOG_LEVEL)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			fmt.Printf("mcp-oidc-proxy %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
		},
	})

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("proxy exited")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Flags feed the same precedence chain as the environment.
	applyFlagOverrides()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.Logger = log.Level(level)

	store, err := newSessionStore(cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close session store failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, store, log.Logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		return err
	}

	log.Info().Msg("proxy stopped")
	return nil
}

func applyFlagOverrides() {
	overrides := map[string]string{
		"MCP_LISTEN_ADDR":  flagListen,
		"MCP_UPSTREAM_URL": flagUpstream,
		"MCP_AUTH_MODE":    flagAuthMode,
		"MCP_LOG_LEVEL":    flagLogLevel,
	}
	for key, val := range overrides {
		if val != "" {
			os.Setenv(key, val)
		}
	}
}

// newSessionStore selects the backend from configuration.
func newSessionStore(cfg config.Config, logger zerolog.Logger) (session.Store, error) {
	switch cfg.Session.Backend {
	case config.SessionBackendMemory:
		return memory.New(logger), nil
	case config.SessionBackendRedis:
		return redis.New(redis.Config{
			URL:       cfg.Session.RedisURL,
			KeyPrefix: cfg.Session.RedisPrefix,
		}, logger)
	case config.SessionBackendSQLite:
		return sqlite.New(cfg.Session.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}
