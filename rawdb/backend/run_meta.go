package backend

import (
	"time"

	"github.com/adlake/adlake/pkg/partition"
)

// RunMeta is the metadata blob committed alongside a run payload. All fields
// are required; the blob is immutable once written.
type RunMeta struct {
	Source         string `json:"source"`
	CustomerID     string `json:"customer_id"`
	QueryName      string `json:"query_name"`
	LogicalDate    string `json:"logical_date"`
	RunID          string `json:"run_id"`
	ExtractedAt    string `json:"extracted_at"`
	SchemaVersion  string `json:"schema_version"`
	RecordCount    int64  `json:"record_count"`
	APIVersion     string `json:"api_version"`
	QuerySignature string `json:"query_signature"`
}

func NewRunMeta(key partition.Key, runID string) *RunMeta {
	return &RunMeta{
		Source:      key.Source,
		CustomerID:  key.CustomerID,
		QueryName:   key.QueryName,
		LogicalDate: key.LogicalDate,
		RunID:       runID,
		ExtractedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (m *RunMeta) Key() partition.Key {
	return partition.Key{
		Source:      m.Source,
		CustomerID:  m.CustomerID,
		QueryName:   m.QueryName,
		LogicalDate: m.LogicalDate,
	}
}
