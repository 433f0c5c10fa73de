package local

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/rawdb/backend"
)

// Backend stores raw runs under the canonical key=value directory layout
// rooted at cfg.Path.
type Backend struct {
	cfg *Config
}

var _ backend.RawSink = (*Backend)(nil)

func New(cfg *Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("local backend requires a path")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating raw root")
	}
	return &Backend{cfg: cfg}, nil
}

func (b *Backend) WriteRun(ctx context.Context, key partition.Key, runID string) (backend.RunWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metaPath := b.metaPath(key, runID)
	if _, err := os.Stat(metaPath); err == nil {
		return nil, backend.ErrAlreadyFinalized
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "checking run metadata")
	}
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating run dir")
	}
	return &runWriter{
		payloadPath: b.payloadPath(key, runID),
		metaPath:    metaPath,
	}, nil
}

func (b *Backend) OpenRun(ctx context.Context, key partition.Key, runID string) (backend.RunReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payloadPath := b.payloadPath(key, runID)
	metaPath := b.metaPath(key, runID)
	// metadata is the commit marker; a payload on its own is not readable
	for _, p := range []string{payloadPath, metaPath} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return nil, backend.ErrDoesNotExist
		} else if err != nil {
			return nil, errors.Wrap(err, "checking run artifact")
		}
	}
	return &runReader{payloadPath: payloadPath, metaPath: metaPath}, nil
}

func (b *Backend) ListRuns(ctx context.Context, key partition.Key) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logicalDir := filepath.Join(b.cfg.Path, filepath.Join(backend.KeyPathForKey(key)...))
	entries, err := os.ReadDir(logicalDir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}

	var runIDs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if runID, ok := backend.RunIDFromDirName(entry.Name()); ok {
			runIDs = append(runIDs, runID)
		}
	}
	sort.Strings(runIDs)
	return runIDs, nil
}

func (b *Backend) payloadPath(key partition.Key, runID string) string {
	return filepath.Join(b.cfg.Path, backend.PayloadFileName(key, runID))
}

func (b *Backend) metaPath(key partition.Key, runID string) string {
	return filepath.Join(b.cfg.Path, backend.MetaFileName(key, runID))
}

type runWriter struct {
	payloadPath string
	metaPath    string
	payload     *os.File
	finalized   bool
}

func (w *runWriter) AppendRow(ctx context.Context, row map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.finalized {
		return backend.ErrAlreadyFinalized
	}
	if w.payload == nil {
		f, err := os.OpenFile(w.payloadPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrap(err, "opening payload")
		}
		w.payload = f
	}
	buf, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "serializing payload row")
	}
	if _, err := w.payload.Write(append(buf, '\n')); err != nil {
		return errors.Wrap(err, "appending payload row")
	}
	return nil
}

func (w *runWriter) Finalize(ctx context.Context, meta *backend.RunMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.finalized {
		return backend.ErrAlreadyFinalized
	}
	if _, err := os.Stat(w.metaPath); err == nil {
		// another writer won the race, treat our work as wasted
		w.finalized = true
		if w.payload != nil {
			w.payload.Close()
			w.payload = nil
		}
		return backend.ErrAlreadyFinalized
	}

	if w.payload == nil {
		// empty partitions are legal, commit a zero-row payload
		f, err := os.OpenFile(w.payloadPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrap(err, "creating payload")
		}
		w.payload = f
	}
	if err := w.payload.Sync(); err != nil {
		return errors.Wrap(err, "syncing payload")
	}
	if err := w.payload.Close(); err != nil {
		return errors.Wrap(err, "closing payload")
	}

	buf, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "serializing run metadata")
	}
	// metadata is the commit point: stage and rename so readers never observe
	// a partial metadata object
	tmpPath := w.metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf, 0o644); err != nil {
		return errors.Wrap(err, "staging run metadata")
	}
	if err := os.Rename(tmpPath, w.metaPath); err != nil {
		return errors.Wrap(err, "committing run metadata")
	}

	w.finalized = true
	return nil
}

type runReader struct {
	payloadPath string
	metaPath    string
}

func (r *runReader) Meta(ctx context.Context) (*backend.RunMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := os.ReadFile(r.metaPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading run metadata")
	}
	meta := &backend.RunMeta{}
	if err := json.Unmarshal(buf, meta); err != nil {
		return nil, errors.Wrap(err, "parsing run metadata")
	}
	return meta, nil
}

func (r *runReader) Rows(ctx context.Context) (backend.RowIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(r.payloadPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening payload")
	}
	return backend.NewRowIterator(f), nil
}
