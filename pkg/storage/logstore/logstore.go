// Package logstore persists collected Windows event log entries in an
// embedded DuckDB database. One Store owns one database file; writers
// serialize through a store-level lock that readers share, so Backup
// can swap the underlying handle without racing an in-flight query.
package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/sentinelsh/sentinel/pkg/eventlog"
)

// schemaStatements are executed in order on open. DuckDB wants one
// statement per Exec. The user column is quoted because USER is a
// reserved word. The id column carries no DEFAULT on purpose: the
// insert statement calls nextval explicitly, and a table-level
// dependency on the sequence would stop ImportParquet from replacing
// it.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS logs_id_seq`,
	`CREATE TABLE IF NOT EXISTS logs (
		id BIGINT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		computer VARCHAR NOT NULL,
		log_name VARCHAR NOT NULL,
		event_id INTEGER NOT NULL,
		level VARCHAR NOT NULL,
		source VARCHAR,
		message VARCHAR,
		"user" VARCHAR,
		raw_xml VARCHAR,
		created_at TIMESTAMP DEFAULT current_timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_computer ON logs (computer)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_event_id ON logs (event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_level ON logs (level)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_log_name ON logs (log_name)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_ts_event_computer ON logs (timestamp, event_id, computer)`,
}

const insertStatement = `INSERT INTO logs
	(id, timestamp, computer, log_name, event_id, level, source, message, "user", raw_xml)
	VALUES (nextval('logs_id_seq'), ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Store is a handle to the sentinel event database.
type Store struct {
	slogger *slog.Logger
	path    string

	// mu serializes mutating statements and guards the handle itself.
	// Readers hold it shared for the life of their query so Backup,
	// which closes and reopens db, cannot swap the handle under them.
	mu sync.RWMutex
	db *sql.DB
}

// Result is a generic query result with every value rendered as a
// string, ready for tabular display or CSV export.
type Result struct {
	Columns []string
	Rows    [][]string
}

// Stats summarizes the database contents for the status command.
type Stats struct {
	TotalEntries int64
	Hosts        int64
	Oldest       time.Time
	Newest       time.Time
	FileSizeByte int64
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(slogger *slog.Logger, path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		slogger: slogger.With("component", "logstore"),
		path:    path,
		db:      db,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging duckdb at %s: %w", path, err)
	}
	return db, nil
}

func (s *Store) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// InsertBatch writes entries in a single transaction. An empty batch is
// a no-op. The whole batch commits or none of it does.
func (s *Store) InsertBatch(ctx context.Context, entries []eventlog.LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertStatement)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Timestamp,
			e.Computer,
			e.LogName,
			e.EventID,
			string(e.Level),
			e.Source,
			e.Message,
			e.User,
			e.RawXML,
		); err != nil {
			return 0, fmt.Errorf("inserting event %d from %s: %w", e.EventID, e.Computer, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing insert transaction: %w", err)
	}

	return len(entries), nil
}

// Query runs an arbitrary read query and renders every value to a
// string. Callers own the SQL; this is the engine behind the query and
// report commands.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	result := &Result{Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}

	return result, nil
}

// CountMatching counts events per (computer, event_id) pair inside the
// half-open window (since, until] that match the given event ids and
// minimum severity set. It is the watcher's evaluation primitive.
func (s *Store) CountMatching(ctx context.Context, since, until time.Time, eventIDs []int, levels []string, threshold int) (*Result, error) {
	var sb strings.Builder
	args := make([]any, 0, len(eventIDs)+len(levels)+3)

	sb.WriteString(`SELECT computer, event_id, count(*) AS hits FROM logs WHERE timestamp > ? AND timestamp <= ?`)
	args = append(args, since, until)

	if len(eventIDs) > 0 {
		sb.WriteString(` AND event_id IN (` + placeholders(len(eventIDs)) + `)`)
		for _, id := range eventIDs {
			args = append(args, id)
		}
	}
	if len(levels) > 0 {
		sb.WriteString(` AND level IN (` + placeholders(len(levels)) + `)`)
		for _, lvl := range levels {
			args = append(args, lvl)
		}
	}

	sb.WriteString(` GROUP BY computer, event_id HAVING count(*) >= ? ORDER BY computer, event_id`)
	args = append(args, threshold)

	return s.Query(ctx, sb.String(), args...)
}

// DeleteOlderThan removes entries with a timestamp before cutoff and
// reports how many went away.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted entries: %w", err)
	}

	return n, nil
}

// ExportParquet writes the logs table to a parquet file. A non-empty
// where clause restricts the exported rows; like the raw query command,
// it is trusted operator input.
func (s *Store) ExportParquet(ctx context.Context, dest, where string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := ""
	if where != "" {
		filter = " WHERE " + where
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`COPY (SELECT * FROM logs%s ORDER BY id) TO %s (FORMAT PARQUET)`, filter, quoteLiteral(dest)),
	)
	if err != nil {
		return fmt.Errorf("exporting to parquet %s: %w", dest, err)
	}
	return nil
}

// ImportParquet loads entries from a parquet file produced by
// ExportParquet, then advances the id sequence past the highest
// imported id so subsequent inserts do not collide. The insert and the
// sequence replacement commit together: on any failure the store is
// left exactly as it was.
func (s *Store) ImportParquet(ctx context.Context, src string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO logs SELECT * FROM read_parquet(%s)`, quoteLiteral(src)),
	)
	if err != nil {
		return 0, fmt.Errorf("importing parquet %s: %w", src, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting imported entries: %w", err)
	}

	var maxID int64
	if err := tx.QueryRowContext(ctx, `SELECT coalesce(max(id), 0) FROM logs`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("reading max id after import: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`CREATE OR REPLACE SEQUENCE logs_id_seq START WITH %d`, maxID+1),
	); err != nil {
		return 0, fmt.Errorf("advancing id sequence after import: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import transaction: %w", err)
	}

	return n, nil
}

// Vacuum reclaims space and refreshes planner statistics.
func (s *Store) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuuming database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("analyzing database: %w", err)
	}
	return nil
}

// Backup copies the database file to dest. The store is quiesced for
// the duration: the exclusive lock drains readers and writers, then
// the handle is closed, the file copied, and the handle reopened, so
// the copy is a consistent snapshot.
func (s *Store) Backup(ctx context.Context, dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database for backup: %w", err)
	}

	copyErr := copyFile(s.path, dest)

	db, openErr := openDB(s.path)
	if openErr != nil {
		return fmt.Errorf("reopening database after backup: %w", openErr)
	}
	s.db = db

	if copyErr != nil {
		return fmt.Errorf("copying database to %s: %w", dest, copyErr)
	}

	s.slogger.Log(ctx, slog.LevelInfo,
		"database backed up",
		"dest", dest,
	)
	return nil
}

// Stats reports totals for the status command.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{}

	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), count(DISTINCT computer), min(timestamp), max(timestamp) FROM logs`,
	).Scan(&stats.TotalEntries, &stats.Hosts, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("reading database stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = oldest.Time
	}
	if newest.Valid {
		stats.Newest = newest.Time
	}

	if fi, err := os.Stat(s.path); err == nil {
		stats.FileSizeByte = fi.Size()
	}

	return stats, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// quoteLiteral renders s as a single-quoted SQL string literal. DuckDB
// COPY and read_parquet take the path as a literal, not a placeholder.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
