package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/workload/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Broker, convey.ShouldEqual, config.BrokerMemory)
			convey.So(cfg.ListenerCount, convey.ShouldEqual, 2)
			convey.So(cfg.ChannelCapacity, convey.ShouldEqual, 10_000)
			convey.So(cfg.CacheMaxEntries, convey.ShouldEqual, 0)
			convey.So(cfg.ReportMailDomain, convey.ShouldEqual, "gym.com")
			convey.So(cfg.ReportWindow, convey.ShouldEqual, 7*24*time.Hour)
			convey.So(cfg.MetricsRefreshInterval, convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Brokers(t *testing.T) {
	convey.Convey("Given a comma separated broker list", t, func() {
		cfg := config.New()
		cfg.KafkaBrokers = " kafka-1:9092, ,kafka-2:9092 ,"

		convey.Convey("Then blanks are dropped and entries trimmed", func() {
			convey.So(cfg.Brokers(), convey.ShouldResemble, []string{"kafka-1:9092", "kafka-2:9092"})
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("When the listener count is out of range", func() {
			cfg.ListenerCount = 50
			err := cfg.Validate()

			convey.Convey("Then it is clamped to the maximum", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.ListenerCount, convey.ShouldEqual, config.MaxListenerCount)
			})
		})

		convey.Convey("When the listener count is zero", func() {
			cfg.ListenerCount = 0
			err := cfg.Validate()

			convey.Convey("Then it is clamped to the minimum", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.ListenerCount, convey.ShouldEqual, config.MinListenerCount)
			})
		})

		convey.Convey("When the broker kind is unknown", func() {
			cfg.Broker = "rabbit"

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When kafka is selected without brokers", func() {
			cfg.Broker = "KAFKA"
			cfg.KafkaBrokers = " , "

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a schedule is not a cron spec", func() {
			cfg.WeeklyReportSchedule = "every monday"

			convey.Convey("Then validation fails", func() {
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "weekly_report_schedule")
			})
		})

		convey.Convey("When a schedule is empty", func() {
			cfg.TrainerListSchedule = ""

			convey.Convey("Then the job is simply disabled", func() {
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the metrics refresh interval is not positive", func() {
			cfg.MetricsRefreshInterval = 0

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}
