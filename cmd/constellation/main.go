package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"constellation/internal/config"
	"constellation/internal/db"
	"constellation/internal/engine"
	"constellation/internal/engine/auth"
	"constellation/internal/logging"
	"constellation/internal/migrate"
	"constellation/internal/presence"
)

var rootCmd = &cobra.Command{
	Use:   "constellation",
	Short: "Constellation backend",
	Long: `Constellation stores tasks, their canvases and the agents composed around them,
and serves them over an HTTP/JSON API with live presence over websockets.

- Tasks own a canvas of nodes and edges plus a viewport.
- Canvases are an organization-wide saved revision of a task canvas.
- Agents chat through threads backed by a configured chat model.
- Presence tracks each user's cursor on a task for a short window.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	viper.SetEnvPrefix("CONSTELLATION")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (defaults to <workspace>/constellation.yml when present)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "email of the user commands act as")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(presenceCmd())
	rootCmd.AddCommand(configCmd())
}

// loadConfig reads the config file and layers CONSTELLATION_* environment
// variables on top of it.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	overrides := []struct {
		key string
		dst *string
	}{
		{"jwt-secret", &cfg.Auth.JWTSecret},
		{"redis-url", &cfg.Redis.URL},
		{"presence-backend", &cfg.Presence.Backend},
		{"llm-provider", &cfg.LLM.Provider},
		{"llm-model", &cfg.LLM.Model},
		{"llm-base-url", &cfg.LLM.BaseURL},
		{"llm-api-key", &cfg.LLM.APIKey},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
		{"storage-path", &cfg.Storage.Path},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(viper.GetString(o.key)); v != "" {
			*o.dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, component string) zerolog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: component,
	})
}

func openDB(cfg *config.Config) (*engineHandle, error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace"), Path: cfg.Storage.Path})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &engineHandle{Engine: engine.New(conn, cfg)}, nil
}

type engineHandle struct {
	engine.Engine
}

func (h *engineHandle) Close() error { return h.DB.Close() }

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	h, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer h.Close()
	h.Log = newLogger(cfg, "cli")
	if cfg.Presence.Backend == "redis" {
		store, err := presence.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer store.Close()
		h.Presence = store
	}
	return fn(ctx, h.Engine)
}

// actingIdentity resolves --user (or CONSTELLATION_USER) to an identity.
func actingIdentity(ctx context.Context, e engine.Engine) (auth.Identity, error) {
	email := strings.TrimSpace(viper.GetString("user"))
	if email == "" {
		return auth.Identity{}, fmt.Errorf("--user (or CONSTELLATION_USER) is required")
	}
	u, err := e.Login(ctx, email)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("resolve user %s: %w", email, err)
	}
	return engine.IdentityFor(u), nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace"), Path: cfg.Storage.Path})
			if err != nil {
				return err
			}
			defer conn.Close()
			n, err := migrate.MigrateContext(cmd.Context(), conn)
			if err != nil {
				return err
			}
			return printJSONOrText(map[string]any{"version": n}, fmt.Sprintf("schema at version %d", n))
		},
	}
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
