// Package postgres persists workload snapshots and dead letters in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/workload/internal/domain/model"
	"github.com/okian/workload/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS trainer_workload (
    username    TEXT        NOT NULL,
    year        INTEGER     NOT NULL,
    month       SMALLINT    NOT NULL CHECK (month BETWEEN 1 AND 12),
    minutes     BIGINT      NOT NULL CHECK (minutes >= 0),
    first_name  TEXT        NOT NULL DEFAULT '',
    last_name   TEXT        NOT NULL DEFAULT '',
    status      TEXT        NOT NULL DEFAULT 'ACTIVE',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (username, year, month)
);

CREATE TABLE IF NOT EXISTS workload_dead_letter (
    id          TEXT        PRIMARY KEY,
    kind        TEXT        NOT NULL,
    reason      TEXT        NOT NULL,
    destination TEXT        NOT NULL DEFAULT '',
    payload     TEXT        NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS workload_dead_letter_occurred_at_idx
    ON workload_dead_letter (occurred_at DESC);
`

const upsertWorkloadSQL = `
INSERT INTO trainer_workload (username, year, month, minutes, first_name, last_name, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (username, year, month) DO UPDATE SET
    minutes    = EXCLUDED.minutes,
    first_name = EXCLUDED.first_name,
    last_name  = EXCLUDED.last_name,
    status     = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at`

const loadWorkloadSQL = `
SELECT year, month, minutes
FROM trainer_workload
WHERE username = $1
ORDER BY year, month`

const archiveDeadLetterSQL = `
INSERT INTO workload_dead_letter (id, kind, reason, destination, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

const recentDeadLettersSQL = `
SELECT id, kind, reason, destination, payload, occurred_at
FROM workload_dead_letter
ORDER BY occurred_at DESC
LIMIT $1`

// ErrInvalidSnapshot marks a snapshot that cannot be stored.
var ErrInvalidSnapshot = errors.New("invalid workload snapshot")

// Store is a pgxpool-backed persistence layer.
type Store struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	logger logger.Logger
}

// Open connects to url, pings the database and bootstraps the schema.
func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		now:    time.Now,
		logger: logger.Get().Named("postgres"),
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

// UpsertWorkloads writes every bucket of every snapshot in one batch and
// returns the number of rows written.
func (s *Store) UpsertWorkloads(ctx context.Context, snapshots []model.TrainerWorkload) (int, error) {
	now := s.now().UTC()
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		if snap.Profile.Username == "" {
			return 0, fmt.Errorf("%w: missing username", ErrInvalidSnapshot)
		}
		for _, b := range snap.Buckets {
			batch.Queue(upsertWorkloadSQL,
				snap.Profile.Username, b.Year, int(b.Month), b.Minutes,
				snap.Profile.FirstName, snap.Profile.LastName, string(snap.Profile.Status), now,
			)
		}
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	return s.sendBatchExec(ctx, batch)
}

// sendBatchExec executes a batch and returns the total number of affected rows.
func (s *Store) sendBatchExec(ctx context.Context, batch *pgx.Batch) (int, error) {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	total := 0
	for i := 0; i < batch.Len(); i++ {
		ct, err := br.Exec()
		if err != nil {
			return total, fmt.Errorf("batch exec [%d]: %w", i, err)
		}
		total += int(ct.RowsAffected())
	}
	return total, nil
}

// LoadWorkload returns the stored buckets of username ordered by month.
func (s *Store) LoadWorkload(ctx context.Context, username string) ([]model.MonthlyWorkload, error) {
	rows, err := s.pool.Query(ctx, loadWorkloadSQL, username)
	if err != nil {
		return nil, fmt.Errorf("load workload %q: %w", username, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MonthlyWorkload, error) {
		var (
			m     model.MonthlyWorkload
			month int16
		)
		if err := row.Scan(&m.Year, &month, &m.Minutes); err != nil {
			return m, err
		}
		m.Month = time.Month(month)
		return m, nil
	})
}

// Archive stores dl. Records already archived are ignored.
func (s *Store) Archive(ctx context.Context, dl model.DeadLetter) error {
	_, err := s.pool.Exec(ctx, archiveDeadLetterSQL,
		dl.ID, string(dl.Kind), dl.Reason, dl.Destination, dl.Payload, dl.OccurredAt,
	)
	if err != nil {
		s.logger.Error(ctx, "archive dead letter failed", logger.String("id", dl.ID), logger.Error(err))
		return fmt.Errorf("archive dead letter %s: %w", dl.ID, err)
	}
	return nil
}

// RecentDeadLetters returns up to limit archived records, newest first.
func (s *Store) RecentDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	rows, err := s.pool.Query(ctx, recentDeadLettersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("recent dead letters: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DeadLetter, error) {
		var (
			dl   model.DeadLetter
			kind string
		)
		err := row.Scan(&dl.ID, &kind, &dl.Reason, &dl.Destination, &dl.Payload, &dl.OccurredAt)
		dl.Kind = model.DeadLetterKind(kind)
		return dl, err
	})
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
