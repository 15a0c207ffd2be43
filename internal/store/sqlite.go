package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"algotrader/internal/models"
)

// SQLiteStore implements RunStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based run store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		strategy_id TEXT,
		strategy_name TEXT NOT NULL,
		remote_id TEXT,
		status TEXT NOT NULL,
		error TEXT,
		error_kind TEXT,
		total_return REAL,
		sharpe_ratio REAL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS quotes (
		symbol TEXT PRIMARY KEY,
		price REAL NOT NULL,
		change REAL,
		change_percent REAL,
		volume REAL,
		fetched_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Runs
// ============================================================================

// RecordRun saves a run. Recording the same id twice replaces the first row.
func (s *SQLiteStore) RecordRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, kind, strategy_id, strategy_name, remote_id, status, error, error_kind, total_return, sharpe_ratio, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Kind), run.StrategyID, run.StrategyName, run.RemoteID, string(run.Status),
		run.Error, run.ErrorKind, run.TotalReturn, run.SharpeRatio, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := "SELECT id, kind, strategy_id, strategy_name, remote_id, status, error, error_kind, total_return, sharpe_ratio, started_at, finished_at FROM runs WHERE 1=1"
	args := []interface{}{}

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.StrategyID != "" {
		query += " AND strategy_id = ?"
		args = append(args, filter.StrategyID)
	}
	if !filter.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var kind, status string
		var strategyID, remoteID, errMsg, errKind sql.NullString
		var totalReturn, sharpe sql.NullFloat64

		if err := rows.Scan(&r.ID, &kind, &strategyID, &r.StrategyName, &remoteID, &status,
			&errMsg, &errKind, &totalReturn, &sharpe, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Kind = RunKind(kind)
		r.Status = RunStatus(status)
		r.StrategyID = strategyID.String
		r.RemoteID = remoteID.String
		r.Error = errMsg.String
		r.ErrorKind = errKind.String
		r.TotalReturn = totalReturn.Float64
		r.SharpeRatio = sharpe.Float64
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// GetRunStats aggregates runs of kind. An empty kind covers every run.
func (s *SQLiteStore) GetRunStats(ctx context.Context, kind RunKind) (*RunStats, error) {
	where := ""
	args := []interface{}{}
	if kind != "" {
		where = " WHERE kind = ?"
		args = append(args, string(kind))
	}

	stats := &RunStats{ByErrorKind: make(map[string]int)}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN status = 'succeeded' THEN total_return END)
		FROM runs`+where, args...).Scan(&stats.Total, &stats.Succeeded, &stats.Failed, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}
	stats.AvgReturn = avg.Float64

	var bestID sql.NullString
	var best sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT id, total_return FROM runs
		WHERE status = 'succeeded'`+strings.Replace(where, " WHERE", " AND", 1)+`
		ORDER BY total_return DESC LIMIT 1`, args...).Scan(&bestID, &best)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get best run: %w", err)
	}
	stats.BestRunID = bestID.String
	stats.BestReturn = best.Float64

	rows, err := s.db.QueryContext(ctx, `
		SELECT error_kind, COUNT(*) FROM runs
		WHERE status = 'failed'`+strings.Replace(where, " WHERE", " AND", 1)+`
		GROUP BY error_kind`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var errKind sql.NullString
		var count int
		if err := rows.Scan(&errKind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan failure group: %w", err)
		}
		key := errKind.String
		if key == "" {
			key = "unknown"
		}
		stats.ByErrorKind[key] += count
	}

	return stats, rows.Err()
}

// ============================================================================
// Quotes
// ============================================================================

// SaveQuotes replaces the cached quote of every symbol in quotes.
func (s *SQLiteStore) SaveQuotes(ctx context.Context, quotes []models.Quote, at time.Time) error {
	if len(quotes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO quotes (symbol, price, change, change_percent, volume, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, q := range quotes {
		if _, err := stmt.ExecContext(ctx, q.Symbol, q.Price, q.Change, q.ChangePercent, q.Volume, at.UTC()); err != nil {
			return fmt.Errorf("failed to insert quote: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetQuotes returns cached quotes for symbols in the order asked. Symbols
// never cached are skipped.
func (s *SQLiteStore) GetQuotes(ctx context.Context, symbols []string) ([]CachedQuote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]interface{}, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, price, change, change_percent, volume, fetched_at
		FROM quotes WHERE symbol IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	bySymbol := make(map[string]CachedQuote, len(symbols))
	for rows.Next() {
		var q CachedQuote
		if err := rows.Scan(&q.Symbol, &q.Price, &q.Change, &q.ChangePercent, &q.Volume, &q.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		bySymbol[q.Symbol] = q
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotes: %w", err)
	}

	quotes := make([]CachedQuote, 0, len(bySymbol))
	for _, sym := range symbols {
		if q, ok := bySymbol[sym]; ok {
			quotes = append(quotes, q)
		}
	}
	return quotes, nil
}

// ============================================================================
// Sync
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

var _ RunStore = (*SQLiteStore)(nil)
