package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/workload/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.ChannelCapacity, convey.ShouldEqual, 10_000)
				convey.So(cfg.ListenerCount, convey.ShouldEqual, 2)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 100_000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("WORKLOAD_ADDR", ":8080")
			_ = os.Setenv("WORKLOAD_CHANNEL_CAPACITY", "500")
			_ = os.Setenv("WORKLOAD_LISTENER_COUNT", "4")
			_ = os.Setenv("WORKLOAD_FLUSH_INTERVAL", "30s")
			_ = os.Setenv("WORKLOAD_BROKER", "kafka")
			_ = os.Setenv("WORKLOAD_KAFKA_BROKERS", "k1:9092,k2:9092")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.ChannelCapacity, convey.ShouldEqual, 500)
				convey.So(cfg.ListenerCount, convey.ShouldEqual, 4)
				convey.So(cfg.FlushInterval, convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.Broker, convey.ShouldEqual, config.BrokerKafka)
				convey.So(cfg.Brokers(), convey.ShouldResemble, []string{"k1:9092", "k2:9092"})
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
listener_count: 3
report_mail_domain: "example.org"
report_window: 48h
trainers:
  - username: harry.potter
    first_name: Harry
    last_name: Potter
    active: true
  - username: ron.weasley
    first_name: Ron
    last_name: Weasley
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("WORKLOAD_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.ListenerCount, convey.ShouldEqual, 3)
				convey.So(cfg.ReportMailDomain, convey.ShouldEqual, "example.org")
				convey.So(cfg.ReportWindow, convey.ShouldEqual, 48*time.Hour)
				convey.So(cfg.Trainers, convey.ShouldHaveLength, 2)
				convey.So(cfg.Trainers[0].Username, convey.ShouldEqual, "harry.potter")
				convey.So(cfg.Trainers[0].Active, convey.ShouldBeTrue)
				convey.So(cfg.Trainers[1].Active, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
listener_count: 3
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("WORKLOAD_CONFIG", tmpFile)
			_ = os.Setenv("WORKLOAD_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")    // env
				convey.So(cfg.ListenerCount, convey.ShouldEqual, 3) // file
			})
		})

		convey.Convey("When the listener count exceeds the maximum", func() {
			_ = os.Setenv("WORKLOAD_LISTENER_COUNT", "25")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it is clamped", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.ListenerCount, convey.ShouldEqual, config.MaxListenerCount)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("WORKLOAD_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("WORKLOAD_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("WORKLOAD_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("WORKLOAD_CHANNEL_CAPACITY", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"WORKLOAD_CONFIG",
		"WORKLOAD_ADDR",
		"WORKLOAD_CHANNEL_CAPACITY",
		"WORKLOAD_LISTENER_COUNT",
		"WORKLOAD_FLUSH_INTERVAL",
		"WORKLOAD_BROKER",
		"WORKLOAD_KAFKA_BROKERS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "workload-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
