/*
Package config loads settlementd configuration.

PURPOSE:
  Layered configuration for the server: compiled defaults, an optional
  TOML file, then environment variable overrides. The seed and serve
  commands both read the same file so they always agree on the database.

PRECEDENCE (lowest to highest):
  1. DefaultConfig()
  2. TOML file (-config flag, default settlementd.toml if present)
  3. Environment: SETTLEMENT_PORT, SETTLEMENT_DB, SETTLEMENT_ORIGINS

FILE FORMAT:
  [server]
  host = "127.0.0.1"
  port = 8080

  [database]
  path = "settlement.db"

  [cors]
  origins = ["http://localhost:5173"]

SEE ALSO:
  - cmd/settlementd/main.go: Flag wiring and .env loading
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the full settlementd configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	CORS     CORSConfig     `toml:"cors"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" runs without
	// persistence (useful for demos, useless for seed-then-serve).
	Path string `toml:"path"`
}

type CORSConfig struct {
	Origins []string `toml:"origins"`
}

// DefaultConfig returns the compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		Server:   ServerConfig{Host: "", Port: 8080},
		Database: DatabaseConfig{Path: "settlement.db"},
		CORS:     CORSConfig{Origins: []string{"http://localhost:5173", "http://localhost:8080"}},
	}
}

// Load builds the effective configuration. A missing file is only an
// error when the path was explicitly requested.
func Load(path string, explicit bool) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) || explicit {
				return Config{}, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	if cfg.Database.Path == "" {
		return Config{}, fmt.Errorf("database path is empty")
	}
	return cfg, nil
}

// Addr returns the listen address for http.Server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SETTLEMENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SETTLEMENT_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SETTLEMENT_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORS.Origins = origins
	}
}
