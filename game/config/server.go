package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every server setting read from the environment
const EnvPrefix = "TURNENGINE_"

// Store drivers
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// ServerConfig holds the process level settings of the server
type ServerConfig struct {
	Addr      string `env:"ADDR" envDefault:":8080"`
	ConfigDir string `env:"CONFIG_DIR" envDefault:"configs"`

	Store      string `env:"STORE" envDefault:"memory"`
	DataDir    string `env:"DATA_DIR" envDefault:"data"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/turnengine.db"`

	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string        `env:"REDIS_PREFIX" envDefault:"turnengine"`
	PollInterval  time.Duration `env:"DELAY_POLL_INTERVAL" envDefault:"1s"`

	OTLPEndpoint     string `env:"OTLP_ENDPOINT"`
	RejectDuplicates bool   `env:"REJECT_DUPLICATES" envDefault:"false"`
	Debug            bool   `env:"DEBUG" envDefault:"false"`
}

// LoadServerConfig reads ServerConfig from the environment
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the store selection
func (c ServerConfig) Validate() error {
	switch c.Store {
	case StoreMemory, StoreFile, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("%w: unknown store %q (memory, file, sqlite, redis)", ErrInvalidConfig, c.Store)
	}
	if c.Store == StoreRedis && c.RedisAddr == "" {
		return fmt.Errorf("%w: redis store requires %sREDIS_ADDR", ErrInvalidConfig, EnvPrefix)
	}
	return nil
}
