// Package config loads daemon configuration from file and environment,
// in that order, with sane defaults for everything.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentwatch/eventval/pkg/events"
)

// Config is the root configuration for the eventval daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Validation ValidationConfig `mapstructure:"validation"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig describes the HTTP/WebSocket listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ValidationConfig tunes the validation framework.
type ValidationConfig struct {
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	RecoveryTimeout     time.Duration `mapstructure:"recovery_timeout"`
	HistoryCapacity     int           `mapstructure:"history_capacity"`
	LatencySampleCap    int           `mapstructure:"latency_sample_cap"`
	MaxEventGap         time.Duration `mapstructure:"max_event_gap"`
	MaxSequenceDuration time.Duration `mapstructure:"max_sequence_duration"`
	CompletedRetention  int           `mapstructure:"completed_retention"`
}

// LoggerConfig tunes logrus output.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads configuration from config.yaml (current directory or
// ./configs) merged with environment variables. VALIDATION_FAILURE_THRESHOLD=5
// overrides validation.failure_threshold, and so on. A missing file is
// fine; defaults and ENV carry the daemon.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("validation.failure_threshold", 10)
	v.SetDefault("validation.recovery_timeout", 60*time.Second)
	v.SetDefault("validation.history_capacity", 10000)
	v.SetDefault("validation.latency_sample_cap", 1000)
	v.SetDefault("validation.max_event_gap", 30*time.Second)
	v.SetDefault("validation.max_sequence_duration", 300*time.Second)
	v.SetDefault("validation.completed_retention", 1024)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Framework converts the validation section into a framework config.
func (c ValidationConfig) Framework() *events.FrameworkConfig {
	return &events.FrameworkConfig{
		FailureThreshold: c.FailureThreshold,
		RecoveryTimeout:  c.RecoveryTimeout,
		HistoryCapacity:  c.HistoryCapacity,
		LatencySampleCap: c.LatencySampleCap,
		Sequence: &events.SequenceConfig{
			MaxEventGap:         c.MaxEventGap,
			MaxSequenceDuration: c.MaxSequenceDuration,
			CompletedRetention:  c.CompletedRetention,
		},
	}
}
