package storage

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"script-executor/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	script          TEXT NOT NULL,
	script_hash     TEXT NOT NULL DEFAULT '',
	events          INTEGER NOT NULL,
	failures        INTEGER NOT NULL,
	warnings        INTEGER NOT NULL,
	last_outcome    TEXT NOT NULL,
	discarded_bytes INTEGER NOT NULL,
	transcript      TEXT NOT NULL,
	request_ip      TEXT NOT NULL DEFAULT '',
	started_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_script_idx ON runs (script, started_at DESC);
CREATE TABLE IF NOT EXISTS run_entries (
	run_id      TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq         BIGINT NOT NULL,
	time        TIMESTAMPTZ NOT NULL,
	sub_kind    TEXT NOT NULL,
	status      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	source      TEXT NOT NULL,
	value       TEXT NOT NULL,
	diagnostics TEXT[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, seq)
);`

// DB wraps a PostgreSQL connection pool for audit logging.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool and ensures the audit schema
// exists.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns) // #nosec G115 -- small configured value
	}
	if cfg.MaxIdleConns > 0 {
		pcfg.MinConns = int32(cfg.MaxIdleConns) // #nosec G115 -- small configured value
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pcfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogRun inserts a run and its entries in one transaction.
func (db *DB) LogRun(ctx context.Context, run *RunRecord) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, script, script_hash, events, failures, warnings,
			last_outcome, discarded_bytes, transcript, request_ip, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.Script, run.ScriptHash, run.Events, run.Failures, run.Warnings,
		run.LastOutcome, run.DiscardedBytes,
		truncateForDB(run.Transcript, 65535),
		run.RequestIP, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	if len(run.Entries) > 0 {
		rows := make([][]any, 0, len(run.Entries))
		for _, e := range run.Entries {
			diags := e.Diagnostics
			if diags == nil {
				diags = []string{}
			}
			rows = append(rows, []any{
				run.ID, int64(e.Seq), e.Time, e.SubKind, e.Status, e.Outcome, // #nosec G115 -- seq fits int64
				truncateForDB(e.Source, 65535),
				truncateForDB(e.Value, 65535),
				diags,
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"run_entries"},
			[]string{"run_id", "seq", "time", "sub_kind", "status", "outcome", "source", "value", "diagnostics"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("inserting run entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// ListRuns queries run summaries, newest first. Entries are not loaded.
func (db *DB) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := `
		SELECT id, script, script_hash, events, failures, warnings,
			last_outcome, discarded_bytes, request_ip, started_at, completed_at
		FROM runs
		WHERE ($1 = '' OR script = $1)
		  AND ($2::timestamptz IS NULL OR started_at >= $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := db.pool.Query(ctx, query,
		filter.Script, filter.Since, normalizeLimit(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var results []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(
			&r.ID, &r.Script, &r.ScriptHash, &r.Events, &r.Failures, &r.Warnings,
			&r.LastOutcome, &r.DiscardedBytes, &r.RequestIP,
			&r.StartedAt, &r.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

// truncateForDB cuts s to at most maxLen bytes without splitting a rune,
// since Postgres rejects invalid UTF-8 in TEXT columns.
func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
