package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Registers the "sqlite" driver.

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

const dirPermissions = 0o750

// SQLiteRepository keeps one row per instance in a SQLite database.
// Records are stored as protobuf JSON, the same encoding the file backend uses.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (and creates when needed) the database at path.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps readers off the writer's back.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &SQLiteRepository{db: db}

	if err = r.migrate(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("migrate: %w", err)
	}

	return r, nil
}

// migrate creates the schema and checks the stored schema version.
func (r *SQLiteRepository) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		instance_id INTEGER PRIMARY KEY,
		fields TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, SchemaVersion); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}

	var version string
	if err := r.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	return checkSchema(version)
}

// Load returns the record of id.
func (r *SQLiteRepository) Load(ctx context.Context, id timer.InstanceID) (timer.Fields, error) {
	var data string

	err := r.db.QueryRowContext(ctx, `SELECT fields FROM records WHERE instance_id = ?`, int64(id)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("load record %d: %w", id, err)
	}

	return decodeFields([]byte(data))
}

// LoadAll returns every stored record.
func (r *SQLiteRepository) LoadAll(ctx context.Context) (map[timer.InstanceID]timer.Fields, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT instance_id, fields FROM records`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	result := make(map[timer.InstanceID]timer.Fields)

	for rows.Next() {
		var (
			id   int64
			data string
		)

		if err = rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		record, decodeErr := decodeFields([]byte(data))
		if decodeErr != nil {
			return nil, fmt.Errorf("record %d: %w", id, decodeErr)
		}

		result[timer.InstanceID(id)] = record
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return result, nil
}

// Merge reads, merges and writes the record of id in one transaction.
func (r *SQLiteRepository) Merge(ctx context.Context, id timer.InstanceID, changes timer.Fields) (timer.Fields, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	// Step 1: read the current record, if any.
	record := timer.Fields{}

	var data string

	err = tx.QueryRowContext(ctx, `SELECT fields FROM records WHERE instance_id = ?`, int64(id)).Scan(&data)

	switch {
	case err == nil:
		if record, err = decodeFields([]byte(data)); err != nil {
			return nil, fmt.Errorf("record %d: %w", id, err)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("load record %d: %w", id, err)
	}

	// Step 2: merge and write it back.
	record = record.Merge(changes)

	encoded, err := encodeFields(record)
	if err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO records (instance_id, fields, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (instance_id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`,
		int64(id), string(encoded), time.Now().Unix()); err != nil {
		return nil, fmt.Errorf("write record %d: %w", id, err)
	}

	// Step 3: commit.
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record %d: %w", id, err)
	}

	// Return what a fresh read would, numbers included.
	return decodeFields(encoded)
}

// Delete removes the record of id.
func (r *SQLiteRepository) Delete(ctx context.Context, id timer.InstanceID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE instance_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}

	return nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
