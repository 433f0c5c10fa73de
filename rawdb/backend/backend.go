package backend

import (
	"context"
	"fmt"
	"path"

	"github.com/adlake/adlake/pkg/partition"
)

var (
	// ErrDoesNotExist is returned when a run has no metadata object. A payload
	// without metadata is treated as absent.
	ErrDoesNotExist = fmt.Errorf("run does not exist")
	// ErrAlreadyFinalized guards the write-once protocol: metadata is written
	// exactly once and nothing may be appended afterwards.
	ErrAlreadyFinalized = fmt.Errorf("run already finalized")
)

const (
	// PayloadName is the payload object inside a run directory, one JSON
	// object per line.
	PayloadName = "payload.jsonl"
	// MetaName is the metadata object. Its presence is the sole finalization
	// indicator for a run.
	MetaName = "metadata.json"

	runIDToken = "run_id="
)

// KeyPath is an ordered set of path segments below the raw root. Both
// backends join the segments with "/" so they expose the same logical
// namespace.
type KeyPath []string

// RawSink is implemented by each raw storage backend.
type RawSink interface {
	// WriteRun returns a writer scoped to (key, runID). It fails with
	// ErrAlreadyFinalized if metadata already exists for the pair.
	WriteRun(ctx context.Context, key partition.Key, runID string) (RunWriter, error)
	// OpenRun fails with ErrDoesNotExist unless the run is finalized.
	OpenRun(ctx context.Context, key partition.Key, runID string) (RunReader, error)
	// ListRuns returns ascending run IDs for which any artifact exists.
	ListRuns(ctx context.Context, key partition.Key) ([]string, error)
}

// RunWriter writes exactly one raw run.
type RunWriter interface {
	// AppendRow serializes row as a single payload line.
	AppendRow(ctx context.Context, row map[string]interface{}) error
	// Finalize persists metadata and marks the run immutable. Metadata is
	// written only after the payload is durable.
	Finalize(ctx context.Context, meta *RunMeta) error
}

// RunReader reads one finalized raw run.
type RunReader interface {
	Meta(ctx context.Context) (*RunMeta, error)
	// Rows iterates payload rows in written order, skipping blank lines.
	Rows(ctx context.Context) (RowIterator, error)
}

// KeyPathForKey addresses the logical partition one level above its runs.
func KeyPathForKey(key partition.Key) KeyPath {
	return KeyPath{
		key.Source,
		"customer_id=" + key.CustomerID,
		"query_name=" + key.QueryName,
		"logical_date=" + key.LogicalDate,
	}
}

// KeyPathForRun addresses one run directory.
func KeyPathForRun(key partition.Key, runID string) KeyPath {
	return append(KeyPathForKey(key), runIDToken+runID)
}

func ObjectFileName(keypath KeyPath, name string) string {
	return path.Join(path.Join(keypath...), name)
}

func PayloadFileName(key partition.Key, runID string) string {
	return ObjectFileName(KeyPathForRun(key, runID), PayloadName)
}

func MetaFileName(key partition.Key, runID string) string {
	return ObjectFileName(KeyPathForRun(key, runID), MetaName)
}

// RunIDFromDirName strips the run_id= token from a directory or common-prefix
// name. ok is false for entries that are not run directories.
func RunIDFromDirName(name string) (string, bool) {
	if len(name) <= len(runIDToken) || name[:len(runIDToken)] != runIDToken {
		return "", false
	}
	return name[len(runIDToken):], true
}
