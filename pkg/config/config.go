// Package config loads the map's runtime configuration from environment
// variables, a YAML file, and CLI flags via Viper, validated with
// go-playground/validator struct tags the way the teacher's CLI config
// loading does.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cobaltmail/dboxmap/internal/bytesize"
)

// Storage holds the rotation and location policy the map's Storage
// collaborator is built from.
type Storage struct {
	Dir        string          `mapstructure:"dir" validate:"required"`
	RotateSize bytesize.ByteSize `mapstructure:"rotate_size" validate:"required"`
	RotateDays int             `mapstructure:"rotate_days" validate:"gte=0"`
}

// Observability holds the metrics/tracing enable flags.
type Observability struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	LogLevel       string `mapstructure:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
	LogFormat      string `mapstructure:"log_format" validate:"oneof=text json"`
}

// Archiver holds the optional S3 cold-archival settings.
type Archiver struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Prefix  string `mapstructure:"prefix"`
	Region  string `mapstructure:"region" validate:"required_if=Enabled true"`
}

// Config is the top-level configuration for a dboxmapctl process or an
// embedding service.
type Config struct {
	Storage       Storage       `mapstructure:"storage" validate:"required"`
	Observability Observability `mapstructure:"observability"`
	Archiver      Archiver      `mapstructure:"archiver"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("storage.rotate_size", "2MiB")
	v.SetDefault("storage.rotate_days", 7)
	v.SetDefault("observability.log_level", "INFO")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.metrics_addr", "127.0.0.1:9090")
	v.SetDefault("archiver.prefix", "dboxmap/")
}

// Load builds a Config from (in increasing priority) defaults, an
// optional YAML file at configPath, DBOXMAP_-prefixed environment
// variables, and flags already bound to fs.
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("DBOXMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(bytesizeDecodeHook)); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}
