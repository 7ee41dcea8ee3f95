package report

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
)

type sentMessage struct{ to, subject, body string }

type fakeNotifier struct {
	sent []sentMessage
	fail map[string]bool
}

func (n *fakeNotifier) Send(_ context.Context, to, subject, body string) error {
	if n.fail[to] {
		return errors.New("smtp down")
	}
	n.sent = append(n.sent, sentMessage{to, subject, body})
	return nil
}

type fakeTrainers []string

func (f fakeTrainers) Usernames() []string { return f }

type fakeSummaries struct {
	byName map[string]model.TrainerWorkloadSummary
	ranges [][2]model.Date
}

func (f *fakeSummaries) GetTrainerWorkloadByName(_ context.Context, u string, start, end *model.Date) (model.TrainerWorkloadSummary, error) {
	f.ranges = append(f.ranges, [2]model.Date{*start, *end})
	s, ok := f.byName[u]
	if !ok {
		return model.TrainerWorkloadSummary{}, model.ErrTrainerNotFound
	}
	return s, nil
}

func summary(username string, minutes ...int64) model.TrainerWorkloadSummary {
	months := make([]model.MonthSummary, len(minutes))
	for i, m := range minutes {
		months[i] = model.MonthSummary{Month: model.Month(i + 1), TotalDuration: m}
	}
	return model.TrainerWorkloadSummary{
		Username: username, FirstName: "Harry", LastName: "Potter",
		TrainerStatus: model.StatusActive,
		Summary:       []model.YearSummary{{Year: 2024, Months: months}},
	}
}

func TestGenerateWeeklyReport(t *testing.T) {
	_ = logger.Init()

	Convey("Given a report job", t, func() {
		n := &fakeNotifier{}
		j := New(fakeTrainers{}, &fakeSummaries{}, n, WithMailDomain("@hogwarts.edu"))
		ctx := context.Background()

		Convey("When the summary has no username", func() {
			sent, err := j.GenerateWeeklyReport(ctx, summary("  ", 30))

			Convey("Then the notifier is never called", func() {
				So(err, ShouldBeNil)
				So(sent, ShouldBeFalse)
				So(n.sent, ShouldBeEmpty)
			})
		})

		Convey("When the summary spans several months", func() {
			sent, err := j.GenerateWeeklyReport(ctx, summary("harry.potter", 30, 45, 0))

			Convey("Then one digest with the summed total is sent", func() {
				So(err, ShouldBeNil)
				So(sent, ShouldBeTrue)
				So(n.sent, ShouldHaveLength, 1)
				So(n.sent[0].to, ShouldEqual, "harry.potter@hogwarts.edu")
				So(n.sent[0].subject, ShouldEqual, Subject)
				So(n.sent[0].body, ShouldContainSubstring, "Harry Potter")
				So(n.sent[0].body, ShouldContainSubstring, "75 minutes")
			})
		})
	})
}

func TestSendWeeklyReports(t *testing.T) {
	_ = logger.Init()

	Convey("Given three known trainers", t, func() {
		now := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
		n := &fakeNotifier{fail: map[string]bool{"ron@gym.com": true}}
		sums := &fakeSummaries{byName: map[string]model.TrainerWorkloadSummary{
			"harry": summary("harry", 60),
			"ron":   summary("ron", 10),
		}}
		j := New(fakeTrainers{"harry", "ron", "ghost"}, sums, n, WithClock(func() time.Time { return now }))
		ctx := context.Background()

		Convey("When the weekly run fires", func() {
			res := j.SendWeeklyReports(ctx)

			Convey("Then failures are counted without stopping the run", func() {
				So(res, ShouldResemble, Result{Sent: 1, Failed: 2})
				So(n.sent, ShouldHaveLength, 1)
				So(n.sent[0].to, ShouldEqual, "harry@gym.com")
			})

			Convey("Then the last seven days are queried", func() {
				So(sums.ranges[0][0].String(), ShouldEqual, "2024-02-26")
				So(sums.ranges[0][1].String(), ShouldEqual, "2024-03-04")
			})

			Convey("Then Run reports the failures", func() {
				So(j.Run(ctx), ShouldNotBeNil)
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			Convey("Then nothing is sent", func() {
				So(j.SendWeeklyReports(cctx), ShouldResemble, Result{})
			})
		})
	})
}
