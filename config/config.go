// Package config loads engine configuration from the environment using
// struct tags. The engine itself takes explicit options; this package is
// the convenience layer binaries use to translate AGENTRELAY_* variables
// into those options.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/agentrelay/agentrelay/logging"
)

// Config holds the tunable settings of the continuity engine.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"AGENTRELAY_LOG_LEVEL" envDefault:"info"`
	// LogFormat is json or text.
	LogFormat string `env:"AGENTRELAY_LOG_FORMAT" envDefault:"json"`
	// StorePath points at the SQLite database file. Empty selects the
	// in-memory store.
	StorePath string `env:"AGENTRELAY_STORE_PATH"`
	// SummaryMaxChars bounds snapshot summaries; 0 disables the bound.
	SummaryMaxChars int `env:"AGENTRELAY_SUMMARY_MAX_CHARS" envDefault:"4000"`
	// TokenEncoding names the BPE encoding for snapshot token estimates
	// (cl100k_base, o200k_base, p50k_base, r50k_base). Empty selects the
	// byte heuristic instead.
	TokenEncoding string `env:"AGENTRELAY_TOKEN_ENCODING"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// LoggerConfig translates the log settings into a logging.LoggerConfig.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultLoggerConfig()
	lc.Level = logging.ParseLevel(c.LogLevel)
	lc.Format = c.LogFormat
	return lc
}
