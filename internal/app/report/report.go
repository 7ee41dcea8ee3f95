// Package report sends the weekly workload digest to every known trainer.
package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
	"github.com/okian/workload/pkg/metrics"
)

// Subject is the subject line of every digest.
const Subject = "Weekly Training Report"

const (
	defaultDomain = "gym.com"
	defaultWindow = 7 * 24 * time.Hour
)

var bodyTemplate = template.Must(template.New("weekly").Parse(
	`Hello {{.FirstName}} {{.LastName}},

Here is your weekly training summary.
Total training time this week: {{.TotalMinutes}} minutes.

Status: {{.Status}}
`))

// Notifier delivers one message.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Trainers enumerates every trainer known to the workload side.
type Trainers interface {
	Usernames() []string
}

// Summaries produces a trainer's summary for a date range.
type Summaries interface {
	GetTrainerWorkloadByName(ctx context.Context, username string, start, end *model.Date) (model.TrainerWorkloadSummary, error)
}

// Result counts the outcomes of one run.
type Result struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// WeeklyReportJob builds and dispatches digests.
type WeeklyReportJob struct {
	trainers  Trainers
	summaries Summaries
	notifier  Notifier
	domain    string
	window    time.Duration
	now       func() time.Time
	logger    logger.Logger
}

// Option configures a WeeklyReportJob.
type Option func(*WeeklyReportJob)

// WithMailDomain sets the domain appended to usernames.
func WithMailDomain(domain string) Option {
	return func(j *WeeklyReportJob) {
		if d := strings.TrimPrefix(strings.TrimSpace(domain), "@"); d != "" {
			j.domain = d
		}
	}
}

// WithWindow sets how far back each digest looks.
func WithWindow(d time.Duration) Option {
	return func(j *WeeklyReportJob) {
		if d > 0 {
			j.window = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *WeeklyReportJob) {
		if now != nil {
			j.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(j *WeeklyReportJob) {
		if l != nil {
			j.logger = l
		}
	}
}

// New creates a report job.
func New(trainers Trainers, summaries Summaries, notifier Notifier, opts ...Option) *WeeklyReportJob {
	j := &WeeklyReportJob{
		trainers:  trainers,
		summaries: summaries,
		notifier:  notifier,
		domain:    defaultDomain,
		window:    defaultWindow,
		now:       time.Now,
		logger:    logger.Get().Named("weekly-report"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run adapts SendWeeklyReports to a scheduler job.
func (j *WeeklyReportJob) Run(ctx context.Context) error {
	res := j.SendWeeklyReports(ctx)
	if res.Failed > 0 {
		return fmt.Errorf("weekly report: %d of %d failed", res.Failed, res.Sent+res.Skipped+res.Failed)
	}
	return nil
}

// SendWeeklyReports sends one digest per known trainer. A failure for one
// trainer does not stop the others.
func (j *WeeklyReportJob) SendWeeklyReports(ctx context.Context) Result {
	start := time.Now()
	defer func() {
		metrics.RecordReportRun(float64(time.Since(start).Milliseconds()))
	}()

	now := j.now()
	from, to := model.DateOf(now.Add(-j.window)), model.DateOf(now)

	var res Result
	for _, username := range j.trainers.Usernames() {
		if ctx.Err() != nil {
			j.logger.Warn(ctx, "weekly report interrupted", logger.Int("sent", res.Sent))
			break
		}

		summary, err := j.summaries.GetTrainerWorkloadByName(ctx, username, &from, &to)
		if err != nil {
			res.Failed++
			metrics.RecordReportFailed()
			j.logger.Error(ctx, "weekly summary failed", logger.String("username", username), logger.Error(err))
			continue
		}

		sent, err := j.GenerateWeeklyReport(ctx, summary)
		switch {
		case err != nil:
			res.Failed++
		case sent:
			res.Sent++
		default:
			res.Skipped++
		}
	}

	j.logger.Info(ctx, "weekly reports dispatched",
		logger.Int("sent", res.Sent),
		logger.Int("skipped", res.Skipped),
		logger.Int("failed", res.Failed),
	)
	return res
}

// GenerateWeeklyReport sends the digest for one summary. A summary without a
// username is skipped silently and reports false.
func (j *WeeklyReportJob) GenerateWeeklyReport(ctx context.Context, summary model.TrainerWorkloadSummary) (bool, error) {
	username := strings.TrimSpace(summary.Username)
	if username == "" {
		metrics.RecordReportSkipped()
		return false, nil
	}

	var body bytes.Buffer
	err := bodyTemplate.Execute(&body, struct {
		FirstName, LastName string
		TotalMinutes        int64
		Status              model.TrainerStatus
	}{summary.FirstName, summary.LastName, summary.TotalMinutes(), summary.TrainerStatus})
	if err != nil {
		metrics.RecordReportFailed()
		return false, fmt.Errorf("render report for %s: %w", username, err)
	}

	if err := j.notifier.Send(ctx, j.Address(username), Subject, body.String()); err != nil {
		metrics.RecordReportFailed()
		j.logger.Error(ctx, "notification failed", logger.String("username", username), logger.Error(err))
		return false, fmt.Errorf("notify %s: %w", username, err)
	}
	metrics.RecordReportSent()
	return true, nil
}

// Address derives the contact address of username.
func (j *WeeklyReportJob) Address(username string) string {
	return username + "@" + j.domain
}
