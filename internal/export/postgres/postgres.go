// Package postgres exports run records and summaries into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultRecordTable = "scraped_records"
	defaultRunTable    = "scrape_runs"
)

// Config controls the Postgres connection pool and target tables.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	RecordTable     string        `mapstructure:"record_table"`
	RunTable        string        `mapstructure:"run_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Exporter writes into a record table and a run table.
type Exporter struct {
	pool        pool
	recordTable string
	runTable    string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	e, err := NewWithPool(p, cfg.RecordTable, cfg.RunTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return e, nil
}

// NewWithPool builds an Exporter from an existing pool (primarily for testing).
func NewWithPool(p pool, recordTable, runTable string) (*Exporter, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if recordTable == "" {
		recordTable = defaultRecordTable
	}
	if runTable == "" {
		runTable = defaultRunTable
	}
	for _, table := range []string{recordTable, runTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Exporter{pool: p, recordTable: recordTable, runTable: runTable}, nil
}

// Close releases the pool.
func (e *Exporter) Close() {
	if e == nil || e.pool == nil {
		return
	}
	e.pool.Close()
}

// EnsureSchema creates both tables when missing.
func (e *Exporter) EnsureSchema(ctx context.Context) error {
	records := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id   UUID        NOT NULL,
	plan     TEXT        NOT NULL,
	seq      INTEGER     NOT NULL,
	payload  JSONB       NOT NULL,
	PRIMARY KEY (run_id, seq)
)`, e.recordTable)
	if _, err := e.pool.Exec(ctx, records); err != nil {
		return fmt.Errorf("create %s: %w", e.recordTable, err)
	}
	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id       UUID        PRIMARY KEY,
	plan         TEXT        NOT NULL,
	seed         TEXT        NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	succeeded    INTEGER     NOT NULL,
	failed       INTEGER     NOT NULL,
	records      INTEGER     NOT NULL,
	files        INTEGER     NOT NULL,
	bytes        BIGINT      NOT NULL,
	canceled     BOOLEAN     NOT NULL,
	summary      JSONB       NOT NULL
)`, e.runTable)
	if _, err := e.pool.Exec(ctx, runs); err != nil {
		return fmt.Errorf("create %s: %w", e.runTable, err)
	}
	return nil
}

// WriteRecords inserts records as JSON payloads in one transaction. Either
// every record of the call is stored or none is.
func WriteRecords[T any](ctx context.Context, e *Exporter, runID, plan string, records []T) (err error) {
	if e == nil || e.pool == nil {
		return fmt.Errorf("postgres exporter is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	query := fmt.Sprintf(`INSERT INTO %s (run_id, plan, seq, payload) VALUES ($1,$2,$3,$4)`, e.recordTable)
	for i, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", i, err)
		}
		if _, err := tx.Exec(ctx, query, runID, plan, i, payload); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WriteRun upserts the run summary.
func (e *Exporter) WriteRun(ctx context.Context, agg pipeline.RunAggregate) error {
	if e == nil || e.pool == nil {
		return fmt.Errorf("postgres exporter is not configured")
	}
	summary, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id, plan, seed, started_at, finished_at,
	succeeded, failed, records, files, bytes, canceled, summary
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	succeeded   = EXCLUDED.succeeded,
	failed      = EXCLUDED.failed,
	records     = EXCLUDED.records,
	files       = EXCLUDED.files,
	bytes       = EXCLUDED.bytes,
	canceled    = EXCLUDED.canceled,
	summary     = EXCLUDED.summary`, e.runTable)
	args := []any{
		agg.RunID,
		agg.Plan,
		agg.Seed,
		agg.StartedAt,
		agg.FinishedAt,
		agg.Succeeded,
		agg.Failed,
		agg.Records,
		agg.Files,
		agg.Bytes,
		agg.Canceled,
		summary,
	}
	if _, err := e.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}
