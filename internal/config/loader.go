package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// Environment contract.
const (
	EnvPrefix     = "WORKLOAD_"
	EnvConfigFile = "WORKLOAD_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if WORKLOAD_CONFIG is set
//  3. env (prefix WORKLOAD_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// WORKLOAD_LISTENER_COUNT -> listener_count. Underscores are kept to
	// match the flat koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and normalizes bounded values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}

	c.Broker = strings.ToLower(strings.TrimSpace(c.Broker))
	switch c.Broker {
	case BrokerMemory:
	case BrokerKafka:
		if len(c.Brokers()) == 0 {
			return fmt.Errorf("%w: kafka_brokers required when broker is kafka", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown broker %q", ErrInvalidConfig, c.Broker)
	}

	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("%w: channel_capacity must be positive", ErrInvalidConfig)
	}
	if c.DedupeSize < 0 || c.CacheMaxEntries < 0 || c.DeadLetterLogSize < 0 {
		return fmt.Errorf("%w: sizes must not be negative", ErrInvalidConfig)
	}

	c.ListenerCount = min(max(c.ListenerCount, MinListenerCount), MaxListenerCount)

	for name, spec := range map[string]string{
		"weekly_report_schedule": c.WeeklyReportSchedule,
		"trainer_list_schedule":  c.TrainerListSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
		}
	}

	if c.ReportMailDomain == "" {
		return fmt.Errorf("%w: report_mail_domain must not be empty", ErrInvalidConfig)
	}
	if c.ReportWindow <= 0 {
		return fmt.Errorf("%w: report_window must be positive", ErrInvalidConfig)
	}
	if c.MetricsRefreshInterval <= 0 {
		return fmt.Errorf("%w: metrics_refresh_interval must be positive", ErrInvalidConfig)
	}
	return nil
}
