// Package pointerdb is the durable table of warehouse pointers: one row per
// logical partition committing a specific run as the published artifact.
package pointerdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for register side-effects.
	"github.com/pkg/errors"

	"github.com/adlake/adlake/pkg/partition"
)

const timeFormat = "2006-01-02T15:04:05.000Z"

var sqliteOpenMu sync.Mutex

// Pointer commits run_id as the published truth for its logical partition.
type Pointer struct {
	Key           partition.Key
	RunID         string
	SchemaVersion string
	LoadedAt      time.Time
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating pointer store dir")
		}
	}

	sqliteOpenMu.Lock()
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err == nil {
		err = db.Ping()
	}
	sqliteOpenMu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "opening pointer store %q", path)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS warehouse_pointers (
			source TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			query_name TEXT NOT NULL,
			logical_date DATE NOT NULL,
			run_id TEXT NOT NULL,
			schema_version TEXT NOT NULL,
			loaded_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (source, customer_id, query_name, logical_date)
		)`)
	return errors.Wrap(err, "ensuring warehouse_pointers schema")
}

// Get returns (nil, nil) when no pointer exists for key.
func (s *Store) Get(ctx context.Context, key partition.Key) (*Pointer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, customer_id, query_name, logical_date, run_id, schema_version, loaded_at
		  FROM warehouse_pointers
		 WHERE source=? AND customer_id=? AND query_name=? AND logical_date=?`,
		key.Source, key.CustomerID, key.QueryName, key.LogicalDate)

	pointer, err := scanPointer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pointer, err
}

func (s *Store) List(ctx context.Context) ([]*Pointer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, customer_id, query_name, logical_date, run_id, schema_version, loaded_at
		  FROM warehouse_pointers`)
	if err != nil {
		return nil, errors.Wrap(err, "listing warehouse pointers")
	}
	defer rows.Close()

	var pointers []*Pointer
	for rows.Next() {
		pointer, err := scanPointer(rows)
		if err != nil {
			return nil, err
		}
		pointers = append(pointers, pointer)
	}
	return pointers, errors.Wrap(rows.Err(), "listing warehouse pointers")
}

func (s *Store) Upsert(ctx context.Context, pointer *Pointer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warehouse_pointers (
			source, customer_id, query_name, logical_date, run_id, schema_version, loaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, customer_id, query_name, logical_date) DO UPDATE SET
			run_id=excluded.run_id,
			schema_version=excluded.schema_version,
			loaded_at=excluded.loaded_at`,
		pointer.Key.Source, pointer.Key.CustomerID, pointer.Key.QueryName, pointer.Key.LogicalDate,
		pointer.RunID, pointer.SchemaVersion, pointer.LoadedAt.UTC().Format(timeFormat),
	)
	return errors.Wrapf(err, "upserting warehouse pointer %s", pointer.Key.String())
}

func (s *Store) Delete(ctx context.Context, key partition.Key) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM warehouse_pointers
		 WHERE source=? AND customer_id=? AND query_name=? AND logical_date=?`,
		key.Source, key.CustomerID, key.QueryName, key.LogicalDate)
	return errors.Wrapf(err, "deleting warehouse pointer %s", key.String())
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanPointer(row scannable) (*Pointer, error) {
	var (
		pointer  Pointer
		loadedAt string
	)
	err := row.Scan(
		&pointer.Key.Source, &pointer.Key.CustomerID, &pointer.Key.QueryName, &pointer.Key.LogicalDate,
		&pointer.RunID, &pointer.SchemaVersion, &loadedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning warehouse pointer")
	}
	pointer.LoadedAt, err = time.Parse(timeFormat, loadedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing loaded_at %q", loadedAt)
	}
	return &pointer, nil
}
