// Package config loads searchrefine settings from flags, environment and an
// optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/searchrefine/internal/metadata"
)

const EnvPrefix = "SEARCHREFINE"

type MetadataConfig struct {
	URL         string        `mapstructure:"url"`
	Registry    string        `mapstructure:"registry"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Concurrency int           `mapstructure:"concurrency"`
}

// HTTP returns the remote client settings.
func (m MetadataConfig) HTTP() metadata.HTTPConfig {
	return metadata.HTTPConfig{
		Timeout:     m.Timeout,
		MaxAttempts: m.MaxAttempts,
		RetryDelay:  m.RetryDelay,
		Concurrency: m.Concurrency,
	}
}

type CacheConfig struct {
	DB         string `mapstructure:"db"`
	Disabled   bool   `mapstructure:"disabled"`
	MaxEntries int64  `mapstructure:"max_entries"`
}

type ValuesConfig struct {
	Strict       bool     `mapstructure:"strict"`
	NumericRange []string `mapstructure:"numeric_range"`
	DateRange    []string `mapstructure:"date_range"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Values   ValuesConfig   `mapstructure:"values"`
}

// SetDefaults registers the built-in values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("metadata.url", "")
	v.SetDefault("metadata.registry", "")
	v.SetDefault("metadata.timeout", 30*time.Second)
	v.SetDefault("metadata.max_attempts", 3)
	v.SetDefault("metadata.retry_delay", 200*time.Millisecond)
	v.SetDefault("metadata.concurrency", 4)
	v.SetDefault("cache.db", "./data/searchrefine.db")
	v.SetDefault("cache.disabled", false)
	v.SetDefault("cache.max_entries", 0)
	v.SetDefault("values.strict", false)
	v.SetDefault("values.numeric_range", []string{})
	v.SetDefault("values.date_range", []string{})
}

// Load reads configFile (when set) and the environment into a Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("searchrefine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
