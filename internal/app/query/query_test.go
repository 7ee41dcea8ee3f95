package query

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/workload/internal/adapters/repository"
	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
)

type noProfiles struct{}

func (noProfiles) FetchByUsername(_ context.Context, u string) (model.TrainerProfile, error) {
	return model.TrainerProfile{}, errors.Join(model.ErrTrainerNotFound, errors.New(u))
}

func event(action model.ActionType, d model.Date, minutes int64) model.WorkloadEvent {
	return model.WorkloadEvent{
		Username: "x", FirstName: "X", LastName: "Y",
		Status: model.StatusActive, Date: d, Duration: minutes, Action: action,
	}
}

func TestGetTrainerWorkloadByName(t *testing.T) {
	_ = logger.Init()

	Convey("Given a trainer with buckets in 2023 and 2024", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cache := repository.NewTrainerCache(ctx, noProfiles{})
		defer cache.Close()

		for _, ev := range []model.WorkloadEvent{
			event(model.ActionAdd, model.NewDate(2024, time.March, 3), 45),
			event(model.ActionAdd, model.NewDate(2023, time.December, 1), 60),
			event(model.ActionAdd, model.NewDate(2024, time.January, 9), 30),
			event(model.ActionAdd, model.NewDate(2023, time.February, 1), 20),
			event(model.ActionDelete, model.NewDate(2023, time.February, 1), 20),
		} {
			So(cache.RecordWorkload(ctx, ev), ShouldBeNil)
		}
		svc := New(cache)

		Convey("When queried without bounds", func() {
			s, err := svc.GetTrainerWorkloadByName(ctx, "x", nil, nil)

			Convey("Then both years are returned in ascending order", func() {
				So(err, ShouldBeNil)
				So(s.Username, ShouldEqual, "x")
				So(s.FirstName, ShouldEqual, "X")
				So(s.TrainerStatus, ShouldEqual, model.StatusActive)
				So(s.Summary, ShouldHaveLength, 2)
				So(s.Summary[0].Year, ShouldEqual, 2023)
				So(s.Summary[1].Year, ShouldEqual, 2024)
				So(s.Summary[0].Months[0].Month, ShouldEqual, model.Month(time.February))
				So(s.Summary[0].Months[0].TotalDuration, ShouldEqual, 0)
				So(s.Summary[1].Months[0].Month, ShouldEqual, model.Month(time.January))
				So(s.TotalMinutes(), ShouldEqual, 135)
			})
		})

		Convey("When queried within 2024", func() {
			start := model.NewDate(2024, time.January, 1)
			end := model.NewDate(2024, time.December, 31)
			s, err := svc.GetTrainerWorkloadByName(ctx, "x", &start, &end)

			Convey("Then only 2024 buckets are projected", func() {
				So(err, ShouldBeNil)
				So(s.Summary, ShouldHaveLength, 1)
				So(s.TotalMinutes(), ShouldEqual, 75)
			})
		})

		Convey("When start is after end", func() {
			start := model.NewDate(2024, time.June, 1)
			end := model.NewDate(2024, time.January, 1)
			_, err := svc.GetTrainerWorkloadByName(ctx, "x", &start, &end)

			Convey("Then the range is rejected", func() {
				So(errors.Is(err, ErrInvalidRange), ShouldBeTrue)
			})
		})

		Convey("When the trainer cannot be resolved", func() {
			_, err := svc.GetTrainerWorkloadByName(ctx, "ghost", nil, nil)
			_, blank := svc.GetTrainerWorkloadByName(ctx, " ", nil, nil)

			Convey("Then an explicit error is returned", func() {
				So(errors.Is(err, model.ErrTrainerNotFound), ShouldBeTrue)
				So(errors.Is(blank, model.ErrInvalidUsername), ShouldBeTrue)
			})
		})
	})
}
