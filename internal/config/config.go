// Package config loads service settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/storage"
)

// #region types

// Config holds every setting the binaries read.
type Config struct {
	Backend        storage.Kind
	Storage        storage.Options
	TransitionDB   string
	GRPCAddr       string
	HTTPAddr       string
	Table          qtable.Config
	DefaultEpsilon float64
}

// #endregion types

// #region load

// Load reads files (default ".env") into the environment without overriding
// variables that are already set, then builds a Config. Missing files are
// ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (Config, error) {
	def := qtable.DefaultConfig()
	cfg := Config{
		Backend: storage.Kind(envOr("QTABLE_BACKEND", string(storage.KindFile))),
		Storage: storage.Options{
			Dir:         envOr("QTABLE_DIR", "q_tables"),
			SQLitePath:  envOr("QTABLE_DB", "q_tables.db"),
			LevelDBPath: envOr("QTABLE_LEVELDB", "q_tables.ldb"),
		},
		TransitionDB: os.Getenv("QTABLE_TRANSITION_DB"),
		GRPCAddr:     envOr("QTABLE_GRPC_ADDR", ":50061"),
		HTTPAddr:     envOr("QTABLE_HTTP_ADDR", ":9090"),
	}

	var err error
	if cfg.Table.Alpha, err = envFloat("QTABLE_ALPHA", def.Alpha); err != nil {
		return Config{}, err
	}
	if cfg.Table.Gamma, err = envFloat("QTABLE_GAMMA", def.Gamma); err != nil {
		return Config{}, err
	}
	if cfg.Table.NActions, err = envInt("QTABLE_ACTIONS", def.NActions); err != nil {
		return Config{}, err
	}
	if cfg.DefaultEpsilon, err = envFloat("QTABLE_EPSILON", 0.20); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks hyperparameter ranges.
func (c Config) Validate() error {
	if math.IsNaN(c.Table.Alpha) || c.Table.Alpha <= 0 || c.Table.Alpha > 1 {
		return fmt.Errorf("QTABLE_ALPHA %v outside (0, 1]", c.Table.Alpha)
	}
	if math.IsNaN(c.Table.Gamma) || c.Table.Gamma < 0 || c.Table.Gamma > 1 {
		return fmt.Errorf("QTABLE_GAMMA %v outside [0, 1]", c.Table.Gamma)
	}
	if c.Table.NActions <= 0 {
		return fmt.Errorf("QTABLE_ACTIONS must be positive, got %d", c.Table.NActions)
	}
	if math.IsNaN(c.DefaultEpsilon) || c.DefaultEpsilon < 0 || c.DefaultEpsilon > 1 {
		return fmt.Errorf("QTABLE_EPSILON %v outside [0, 1]", c.DefaultEpsilon)
	}
	switch c.Backend {
	case storage.KindFile, storage.KindSQLite, storage.KindLevelDB:
	default:
		return fmt.Errorf("QTABLE_BACKEND %q not one of file, sqlite, leveldb", c.Backend)
	}
	return nil
}

// #endregion load

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// #endregion helpers
