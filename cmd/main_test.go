package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	service "github.com/okian/workload/internal/app"
	"github.com/okian/workload/internal/config"
	"github.com/okian/workload/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigFromEnvironment(t *testing.T) {
	convey.Convey("Given workload environment variables", t, func() {
		t.Setenv("WORKLOAD_ADDR", ":8181")
		t.Setenv("WORKLOAD_LISTENER_COUNT", "4")
		t.Setenv("WORKLOAD_REPORT_MAIL_DOMAIN", "school.org")

		convey.Convey("Then configuration picks them up", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8181")
			convey.So(cfg.ListenerCount, convey.ShouldEqual, 4)
			convey.So(cfg.ReportMailDomain, convey.ShouldEqual, "school.org")
		})

		convey.Convey("When the broker is unknown", func() {
			t.Setenv("WORKLOAD_BROKER", "carrier-pigeon")

			convey.Convey("Then loading fails", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestHTTPServerWiring(t *testing.T) {
	_ = logger.Init()

	convey.Convey("Given a started service behind the HTTP server", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cfg := config.New()
		cfg.WeeklyReportSchedule = ""
		cfg.TrainerListSchedule = ""
		cfg.Trainers = []config.TrainerSeed{{Username: "harry.potter", FirstName: "Harry", LastName: "Potter", Active: true}}

		svc := service.New(service.WithConfig(cfg))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := newHTTPServer(ctx, cfg, svc)
		convey.So(srv.Addr, convey.ShouldEqual, cfg.Addr)
		convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)

		get := func(path string) *httptest.ResponseRecorder {
			rec := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
			return rec
		}

		convey.Convey("Then business and docs routes are served", func() {
			convey.So(get("/healthz").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/trainers/harry.potter").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/openapi.yaml").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/api-docs").Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then metric updaters run without panicking", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)

			short, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer stop()
			convey.So(func() { startSystemMetricsUpdater(short) }, convey.ShouldNotPanic)
		})
	})
}

func TestServiceMetricsBeforeStart(t *testing.T) {
	convey.Convey("Given a service that was never started", t, func() {
		svc := service.New()

		convey.Convey("Then polling its stats is safe", func() {
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			convey.So(svc.GetStats()["started"], convey.ShouldEqual, false)
		})
	})
}
