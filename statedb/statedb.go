// Package statedb is the durable table of PartitionState rows, one per
// logical partition. It exclusively owns partition_state; merge policy lives
// in callers, every Upsert is a full-row write.
package statedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for register side-effects.
	"github.com/pkg/errors"

	"github.com/adlake/adlake/pkg/partition"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// TerminalMarker inside error_message declares a failed partition terminal:
// excluded from automatic retry until an operator clears it.
const TerminalMarker = "[terminal]"

// timeFormat keeps stored timestamps fixed-width UTC so that string ordering
// in SQL agrees with chronological ordering.
const timeFormat = "2006-01-02T15:04:05.000Z"

// sqliteOpenMu serializes sql.Open against a newly created database; raced
// opens of the same file tend to return "database is locked".
var sqliteOpenMu sync.Mutex

// PartitionState is the authoritative status of one logical partition.
type PartitionState struct {
	Key           partition.Key
	Status        Status
	CurrentRunID  string
	SchemaVersion string
	RecordCount   int64
	UpdatedAt     time.Time
	ErrorMessage  string
	AttemptCount  int64
}

// Terminal reports whether the partition was declared terminal by an
// operator.
func (s *PartitionState) Terminal() bool {
	return strings.Contains(s.ErrorMessage, TerminalMarker)
}

// ListOptions are ANDed filters for List. Zero values mean "no filter".
type ListOptions struct {
	Status     Status
	CustomerID string
	QueryName  string
	Since      string // inclusive lower bound on logical_date, YYYY-MM-DD
	Until      string // inclusive upper bound
	Limit      int
}

type Store struct {
	db *sql.DB
}

// Open opens (creating parent directories as needed) the state store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating state store dir")
		}
	}

	sqliteOpenMu.Lock()
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err == nil {
		err = db.Ping()
	}
	sqliteOpenMu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "opening state store %q", path)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS partition_state (
			source TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			query_name TEXT NOT NULL,
			logical_date DATE NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending','success','failed')),
			current_run_id TEXT,
			schema_version TEXT,
			record_count BIGINT,
			updated_at TIMESTAMPTZ NOT NULL,
			error_message TEXT,
			attempt_count INTEGER,
			PRIMARY KEY (source, customer_id, query_name, logical_date)
		)`)
	return errors.Wrap(err, "ensuring partition_state schema")
}

// Get returns (nil, nil) when no row exists for key.
func (s *Store) Get(ctx context.Context, key partition.Key) (*PartitionState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, customer_id, query_name, logical_date, status,
		       current_run_id, schema_version, record_count, updated_at,
		       error_message, attempt_count
		  FROM partition_state
		 WHERE source=? AND customer_id=? AND query_name=? AND logical_date=?`,
		key.Source, key.CustomerID, key.QueryName, key.LogicalDate)

	state, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return state, err
}

// List returns matching states ordered by descending updated_at.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*PartitionState, error) {
	var where []string
	var params []interface{}
	if opts.Status != "" {
		where = append(where, "status = ?")
		params = append(params, string(opts.Status))
	}
	if opts.CustomerID != "" {
		where = append(where, "customer_id = ?")
		params = append(params, opts.CustomerID)
	}
	if opts.QueryName != "" {
		where = append(where, "query_name = ?")
		params = append(params, opts.QueryName)
	}
	if opts.Since != "" {
		where = append(where, "logical_date >= ?")
		params = append(params, opts.Since)
	}
	if opts.Until != "" {
		where = append(where, "logical_date <= ?")
		params = append(params, opts.Until)
	}

	query := `
		SELECT source, customer_id, query_name, logical_date, status,
		       current_run_id, schema_version, record_count, updated_at,
		       error_message, attempt_count
		  FROM partition_state`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, errors.Wrap(err, "listing partition states")
	}
	defer rows.Close()

	var states []*PartitionState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, errors.Wrap(rows.Err(), "listing partition states")
}

// Upsert overwrites all non-key fields on key collision.
func (s *Store) Upsert(ctx context.Context, state *PartitionState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO partition_state (
			source, customer_id, query_name, logical_date, status,
			current_run_id, schema_version, record_count, updated_at,
			error_message, attempt_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, customer_id, query_name, logical_date) DO UPDATE SET
			status=excluded.status,
			current_run_id=excluded.current_run_id,
			schema_version=excluded.schema_version,
			record_count=excluded.record_count,
			updated_at=excluded.updated_at,
			error_message=excluded.error_message,
			attempt_count=excluded.attempt_count`,
		state.Key.Source, state.Key.CustomerID, state.Key.QueryName, state.Key.LogicalDate,
		string(state.Status),
		nullIfEmpty(state.CurrentRunID),
		nullIfEmpty(state.SchemaVersion),
		nullRecordCount(state),
		state.UpdatedAt.UTC().Format(timeFormat),
		nullIfEmpty(state.ErrorMessage),
		state.AttemptCount,
	)
	return errors.Wrapf(err, "upserting partition state %s", state.Key.String())
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanState(row scannable) (*PartitionState, error) {
	var (
		state        PartitionState
		status       string
		runID        sql.NullString
		schema       sql.NullString
		recordCount  sql.NullInt64
		updatedAt    string
		errMessage   sql.NullString
		attemptCount sql.NullInt64
	)
	err := row.Scan(
		&state.Key.Source, &state.Key.CustomerID, &state.Key.QueryName, &state.Key.LogicalDate,
		&status, &runID, &schema, &recordCount, &updatedAt, &errMessage, &attemptCount,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning partition state")
	}

	state.Status = Status(status)
	state.CurrentRunID = runID.String
	state.SchemaVersion = schema.String
	state.RecordCount = recordCount.Int64
	state.ErrorMessage = errMessage.String
	state.AttemptCount = attemptCount.Int64
	state.UpdatedAt, err = time.Parse(timeFormat, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing updated_at %q", updatedAt)
	}
	return &state, nil
}

func nullIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

// record_count is NULL until the partition has carried a validated run.
func nullRecordCount(state *PartitionState) interface{} {
	if state.CurrentRunID == "" && state.RecordCount == 0 {
		return nil
	}
	return state.RecordCount
}
