// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix starts every environment key read by LoadConfig.
const EnvPrefix = "VOTON"

// Config holds application configuration
type Config struct {
	Store  StoreConfig
	Log    LogConfig
	Export ExportConfig
}

type StoreConfig struct {
	DSN           string
	StrictParents bool
}

type LogConfig struct {
	Level string
}

type ExportConfig struct {
	Dir string
}

// LoadConfig loads configuration from environment variables and, when
// envFile is not empty, from that .env file. A missing .env file is not an
// error. Variables already set in the environment win over the file.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("DB_DSN", "file:voton.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("EXPORT_DIR", ".")
	v.SetDefault("STRICT_PARENTS", false)

	cfg := &Config{
		Store: StoreConfig{
			DSN:           v.GetString("DB_DSN"),
			StrictParents: v.GetBool("STRICT_PARENTS"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Export: ExportConfig{
			Dir: v.GetString("EXPORT_DIR"),
		},
	}

	if cfg.Store.DSN == "" {
		return nil, errors.New("VOTON_DB_DSN must not be empty")
	}

	return cfg, nil
}
