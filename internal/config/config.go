// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and WORKLOAD_* environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"strings"
	"time"
)

// Broker kinds.
const (
	BrokerMemory = "memory"
	BrokerKafka  = "kafka"
)

// Listener bounds per destination.
const (
	MinListenerCount = 1
	MaxListenerCount = 10
)

// TrainerSeed is a trainer profile preloaded into the profile directory.
type TrainerSeed struct {
	Username  string `koanf:"username"`
	FirstName string `koanf:"first_name"`
	LastName  string `koanf:"last_name"`
	Active    bool   `koanf:"active"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Broker selects the channel implementation: memory or kafka.
	Broker string `koanf:"broker"`

	// KafkaBrokers is a comma separated list of bootstrap servers.
	KafkaBrokers string `koanf:"kafka_brokers"`

	// KafkaGroupID is the consumer group used by every listener.
	KafkaGroupID string `koanf:"kafka_group_id"`

	// TopicPrefix is prepended to destination names to form topic names.
	TopicPrefix string `koanf:"topic_prefix"`

	// ChannelCapacity bounds each in-memory destination.
	ChannelCapacity int `koanf:"channel_capacity"`

	// ListenerCount is the number of concurrent listeners per destination.
	ListenerCount int `koanf:"listener_count"`

	// DedupeSize bounds the redelivery deduper. 0 keeps every id.
	DedupeSize int `koanf:"dedupe_size"`

	// CacheMaxEntries bounds the trainer cache. 0 means unbounded.
	CacheMaxEntries int `koanf:"cache_max_entries"`

	// ProfileServiceURL points at the user-management service. Empty uses
	// the in-process profile directory.
	ProfileServiceURL   string        `koanf:"profile_service_url"`
	ProfileFetchTimeout time.Duration `koanf:"profile_fetch_timeout"`

	// PostgresURL enables snapshot flushing and dead-letter archiving.
	PostgresURL   string        `koanf:"postgres_url"`
	FlushInterval time.Duration `koanf:"flush_interval"`

	// Cron specs (standard five-field syntax or descriptors like @weekly).
	WeeklyReportSchedule string `koanf:"weekly_report_schedule"`
	TrainerListSchedule  string `koanf:"trainer_list_schedule"`

	// ReportMailDomain is appended to usernames to form notification addresses.
	ReportMailDomain string        `koanf:"report_mail_domain"`
	ReportWindow     time.Duration `koanf:"report_window"`

	// DeadLetterLogSize bounds the in-memory dead-letter ring.
	DeadLetterLogSize int `koanf:"dead_letter_log_size"`

	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MetricsRefreshInterval paces the gauge refresh loops.
	MetricsRefreshInterval time.Duration `koanf:"metrics_refresh_interval"`

	// Trainers seeds the profile directory.
	Trainers []TrainerSeed `koanf:"trainers"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		Broker:               BrokerMemory,
		KafkaBrokers:         "localhost:9092",
		KafkaGroupID:         "trainer-workload",
		TopicPrefix:          "",
		ChannelCapacity:      10_000,
		ListenerCount:        2,
		DedupeSize:           100_000,
		CacheMaxEntries:      0,
		ProfileFetchTimeout:  3 * time.Second,
		FlushInterval:        time.Minute,
		WeeklyReportSchedule: "0 9 * * 1",
		TrainerListSchedule:  "0 8 * * 1",
		ReportMailDomain:     "gym.com",
		ReportWindow:         7 * 24 * time.Hour,
		DeadLetterLogSize:    1_000,
		ShutdownTimeout:      10 * time.Second,

		MetricsRefreshInterval: 10 * time.Second,
	}
}

// Brokers splits KafkaBrokers into a clean list.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
