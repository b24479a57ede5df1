package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/org/fakeakv/internal/api"
	"github.com/org/fakeakv/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr  string `yaml:"listen_addr"`
	TLSCertFile string `yaml:"tls_cert"`
	TLSKeyFile  string `yaml:"tls_key"`
	Storage     string `yaml:"storage"` // memory, sqlite or postgres
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
	BaseURL     string `yaml:"base_url"`
	RequireAuth *bool  `yaml:"require_auth"`
	LogLevel    string `yaml:"log_level"`
}

func loadConfig() config {
	cfgFile := "config.yaml"
	if v := os.Getenv("FAKE_AKV_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr: ":8200",
		Storage:    "sqlite",
		LogLevel:   "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("FAKE_AKV_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FAKE_AKV_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("FAKE_AKV_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("FAKE_AKV_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("FAKE_AKV_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("FAKE_AKV_REQUIRE_AUTH"); v != "" {
		b := strings.EqualFold(v, "true")
		cfg.RequireAuth = &b
	}
	return cfg
}

func (c config) requireAuth() bool {
	if c.RequireAuth == nil {
		return true
	}
	return *c.RequireAuth
}

func openStore(ctx context.Context, cfg config) (storage.SecretStore, error) {
	switch cfg.Storage {
	case "memory":
		return storage.NewMemoryBackend(), nil
	case "sqlite", "":
		path := cfg.SQLitePath
		if path == "" {
			path = storage.DefaultSQLitePath()
		}
		log.Info().Str("path", path).Msg("using sqlite storage")
		return storage.NewSQLiteBackend(ctx, path)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database_url must be configured for postgres storage")
		}
		return storage.NewPostgresBackend(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := loadConfig()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage backend")
	}
	defer store.Close()

	srv := api.NewServer(store, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		BaseURL:     cfg.BaseURL,
		RequireAuth: cfg.requireAuth(),
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("storage", cfg.Storage).
		Bool("require_auth", cfg.requireAuth()).
		Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
