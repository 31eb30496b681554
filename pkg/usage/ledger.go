// Package usage records per-attempt request outcomes in a SQLite ledger.
// One row per upstream attempt: which account served which model, the
// outcome class, token counts, and latency. The ledger is advisory;
// write failures are reported but never block request serving.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"orbital-hq/callisto/pkg/config"
)

// Outcome classifies how an attempt ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeAuthFailed  Outcome = "auth_failed"
	OutcomeServerError Outcome = "server_error"
	OutcomeNetwork     Outcome = "network_error"
	OutcomeEmpty       Outcome = "empty_response"
	OutcomeTranslation Outcome = "translation_error"
)

// Record is one ledger row.
type Record struct {
	Timestamp       time.Time
	Account         string
	Model           string
	Fallback        bool
	Outcome         Outcome
	InputTokens     int
	OutputTokens    int
	CacheReadTokens int
	Attempts        int
	DurationMs      int64
}

// ModelTotals aggregates ledger rows for one model.
type ModelTotals struct {
	Model        string
	Requests     int
	InputTokens  int64
	OutputTokens int64
}

// Ledger persists attempt records to SQLite. Safe for concurrent use;
// SQLite has a single writer so the connection pool is capped at one.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex

	insertStmt  *sql.Stmt
	totalsStmt  *sql.Stmt
	cleanupStmt *sql.Stmt
	closeOnce   sync.Once
}

// Open creates or opens the ledger database and prepares its schema.
func Open(cfg config.UsageConfig) (*Ledger, error) {
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	busy := cfg.BusyTimeout
	if busy == 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DatabasePath, int(busy.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := l.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		account TEXT NOT NULL,
		model TEXT NOT NULL,
		fallback INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 1,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_ts ON attempts(ts);
	CREATE INDEX IF NOT EXISTS idx_attempts_model ON attempts(model);
	CREATE INDEX IF NOT EXISTS idx_attempts_account ON attempts(account);
	`

	_, err := l.db.Exec(schema)
	return err
}

func (l *Ledger) prepareStatements() error {
	var err error

	l.insertStmt, err = l.db.Prepare(`
		INSERT INTO attempts (ts, account, model, fallback, outcome,
			input_tokens, output_tokens, cache_read_tokens, attempts, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	l.totalsStmt, err = l.db.Prepare(`
		SELECT model, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM attempts
		WHERE ts >= ? AND outcome = 'success'
		GROUP BY model
		ORDER BY model
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare totals statement: %w", err)
	}

	l.cleanupStmt, err = l.db.Prepare(`
		DELETE FROM attempts WHERE ts < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

// Write appends one attempt record.
func (l *Ledger) Write(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fallback := 0
	if rec.Fallback {
		fallback = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.insertStmt.ExecContext(ctx,
		ts.Unix(),
		rec.Account,
		rec.Model,
		fallback,
		string(rec.Outcome),
		rec.InputTokens,
		rec.OutputTokens,
		rec.CacheReadTokens,
		rec.Attempts,
		rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Totals returns per-model served-request aggregates since a point in
// time. Only successful attempts are counted.
func (l *Ledger) Totals(ctx context.Context, since time.Time) ([]ModelTotals, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.totalsStmt.QueryContext(ctx, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	var out []ModelTotals
	for rows.Next() {
		var t ModelTotals
		if err := rows.Scan(&t.Model, &t.Requests, &t.InputTokens, &t.OutputTokens); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Cleanup deletes records older than the cutoff and returns the number
// removed.
func (l *Ledger) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.cleanupStmt.ExecContext(ctx, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Close releases the database. Idempotent.
func (l *Ledger) Close() error {
	var closeErr error
	l.closeOnce.Do(func() {
		if l.insertStmt != nil {
			l.insertStmt.Close()
		}
		if l.totalsStmt != nil {
			l.totalsStmt.Close()
		}
		if l.cleanupStmt != nil {
			l.cleanupStmt.Close()
		}
		if l.db != nil {
			_, _ = l.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = l.db.Close()
		}
	})
	return closeErr
}
