// Package curated stages validated partition rows in the curated area of the
// lake, mirroring the raw layout. Staging follows the same metadata-last
// discipline as the raw sink so a half-written stage is never mistaken for a
// committed one.
package curated

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/rawdb/backend"
)

const (
	// DataName is the curated payload object, one JSON object per line.
	DataName = "data.jsonl"
)

// Sink stages the rows of one validated run into the curated area.
type Sink interface {
	StagePartition(ctx context.Context, key partition.Key, runID string, rows backend.RowIterator, meta *backend.RunMeta) error
}

// KeyPath addresses one staged run below the curated root.
func KeyPath(key partition.Key, runID string) backend.KeyPath {
	return backend.KeyPath{
		"source=" + key.Source,
		"customer_id=" + key.CustomerID,
		"query_name=" + key.QueryName,
		"logical_date=" + key.LogicalDate,
		"run_id=" + runID,
	}
}

type Config struct {
	Path string `yaml:"path"`
}

// FilesystemSink writes curated runs below a local root.
type FilesystemSink struct {
	cfg *Config
}

var _ Sink = (*FilesystemSink)(nil)

func New(cfg *Config) (*FilesystemSink, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating curated root")
	}
	return &FilesystemSink{cfg: cfg}, nil
}

func (s *FilesystemSink) StagePartition(ctx context.Context, key partition.Key, runID string, rows backend.RowIterator, meta *backend.RunMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Join(s.cfg.Path, filepath.Join(KeyPath(key, runID)...))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating curated run dir")
	}

	if err := s.writeData(dir, rows); err != nil {
		return err
	}

	// metadata written last, via rename, so its presence commits the stage
	buff, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "marshaling curated metadata")
	}
	tmp := filepath.Join(dir, backend.MetaName+".tmp")
	if err := os.WriteFile(tmp, buff, 0o644); err != nil {
		return errors.Wrap(err, "writing curated metadata")
	}
	return errors.Wrap(os.Rename(tmp, filepath.Join(dir, backend.MetaName)), "committing curated metadata")
}

func (s *FilesystemSink) writeData(dir string, rows backend.RowIterator) error {
	f, err := os.Create(filepath.Join(dir, DataName))
	if err != nil {
		return errors.Wrap(err, "creating curated data file")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for {
		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading raw rows for staging")
		}
		if err := enc.Encode(row); err != nil {
			return errors.Wrap(err, "writing curated data row")
		}
	}
	return errors.Wrap(f.Sync(), "syncing curated data file")
}
