package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"constellation/internal/agentrt"
	"constellation/internal/engine"
	"constellation/internal/metrics"
	"constellation/internal/presence"
	"constellation/internal/realtime"
	"constellation/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("CONSTELLATION_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
			}
			log := newLogger(cfg, "server")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer h.Close()
			e := h.Engine
			e.Log = log.With().Str("component", "engine").Logger()
			e.Metrics = metrics.MustNewMetrics(nil)

			rt, err := agentrt.New(ctx, cfg.LLM)
			if err != nil {
				return err
			}
			e.Runtime = rt
			if !rt.Available() {
				log.Warn().Msg("no llm provider configured; thread prompts will fail with model_unavailable")
			}

			if cfg.Presence.Backend == "redis" {
				store, err := presence.NewRedisStore(ctx, cfg.Redis.URL)
				if err != nil {
					return err
				}
				defer store.Close()
				e.Presence = store
			}

			hub := realtime.NewHub(log.With().Str("component", "realtime").Logger())
			hub.OnCount = e.Metrics.SetRealtimeSubscribers
			e.Realtime = hub

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret: cfg.Auth.JWTSecret,
					TokenTTL:  time.Duration(cfg.Auth.TokenTTLHours) * time.Hour,
					Logger:    log,
				},
				Hub:          hub,
				Metrics:      e.Metrics,
				Log:          log,
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info().Str("addr", cfg.Server.Addr).Str("base_path", cfg.Server.BasePath).
					Msg("serving Constellation API (OpenAPI at <base>/openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				grace := time.Duration(cfg.Server.ShutdownSeconds) * time.Second
				if grace <= 0 {
					grace = 5 * time.Second
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return runPresencePruner(gctx, e, cfg.Presence.PruneInterval(), log)
			})
			g.Go(func() error {
				return server.NewWebhookDispatcher(e, cfg.Webhooks, log.With().Str("component", "webhooks").Logger()).Run(gctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// runPresencePruner deletes stale presence rows every interval. A zero
// interval disables it.
func runPresencePruner(ctx context.Context, e engine.Engine, interval time.Duration, log zerolog.Logger) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := e.PrunePresence(ctx, 0)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Msg("presence prune failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("pruned stale presence")
			}
		}
	}
}
