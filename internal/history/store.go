// Package history records live state changes and serves them back to lag
// engines on startup, so a restarted sensor resumes its delay window.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sweeney/lag-sensor/internal/lag"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Store keeps state change history in SQLite.
// Uses WAL mode so the CLI can read while the daemon writes.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect history database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records a state change of entityID. Recording the same
// (entity, observed_at, value) twice is a no-op, which lets several sensors
// tracking one entity share the table.
func (s *Store) Append(ctx context.Context, entityID string, rec lag.Record) error {
	var unit sql.NullString
	if rec.Unit != "" {
		unit = sql.NullString{String: rec.Unit, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO state_changes (entity_id, value, unit, observed_at)
		VALUES (?, ?, ?, ?)
	`, entityID, rec.Value, unit, rec.ObservedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("append state change for %s: %w", entityID, err)
	}
	return nil
}

// Since returns every state change of entityID observed at or after since,
// oldest first. Records with equal timestamps keep insertion order.
func (s *Store) Since(ctx context.Context, entityID string, since time.Time) ([]lag.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value, unit, observed_at
		FROM state_changes
		WHERE entity_id = ? AND observed_at >= ?
		ORDER BY observed_at ASC, id ASC
	`, entityID, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []lag.Record
	for rows.Next() {
		var (
			value string
			unit  sql.NullString
			ns    int64
		)
		if err := rows.Scan(&value, &unit, &ns); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, lag.Record{
			Value:      value,
			Unit:       unit.String,
			ObservedAt: time.Unix(0, ns).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}

// Latest returns the newest state change of entityID observed at or before
// at. ok is false when there is none.
func (s *Store) Latest(ctx context.Context, entityID string, at time.Time) (rec lag.Record, ok bool, err error) {
	var (
		unit sql.NullString
		ns   int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT value, unit, observed_at
		FROM state_changes
		WHERE entity_id = ? AND observed_at <= ?
		ORDER BY observed_at DESC, id DESC
		LIMIT 1
	`, entityID, at.UnixNano()).Scan(&rec.Value, &unit, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return lag.Record{}, false, nil
	}
	if err != nil {
		return lag.Record{}, false, fmt.Errorf("query latest state of %s: %w", entityID, err)
	}
	rec.Unit = unit.String
	rec.ObservedAt = time.Unix(0, ns).UTC()
	return rec, true, nil
}

// Prune deletes state changes observed before the given time and returns
// how many rows were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM state_changes WHERE observed_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return n, nil
}

// Entities returns the distinct entity IDs with recorded history.
func (s *Store) Entities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT entity_id FROM state_changes ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("history database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

var _ lag.HistorySource = (*Store)(nil)
