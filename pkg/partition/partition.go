package partition

import (
	"fmt"
	"strings"
	"time"
)

// runIDFormat renders ISO-8601 UTC with millisecond precision and a trailing
// Z. Lexicographic order of run IDs must agree with chronological order; the
// validator's authority rule depends on it.
const runIDFormat = "2006-01-02T15:04:05.000Z"

// DateFormat is the calendar-date form used for logical dates everywhere.
const DateFormat = "2006-01-02"

// Key identifies one logical partition. Equality is by all four fields.
type Key struct {
	Source      string
	CustomerID  string
	QueryName   string
	LogicalDate string // YYYY-MM-DD
}

func (k Key) String() string {
	return strings.Join([]string{k.Source, k.CustomerID, k.QueryName, k.LogicalDate}, "/")
}

// Validate rejects keys with empty fields or a malformed logical date.
func (k Key) Validate() error {
	if k.Source == "" || k.CustomerID == "" || k.QueryName == "" || k.LogicalDate == "" {
		return fmt.Errorf("partition key has empty fields: %q", k.String())
	}
	if _, err := time.Parse(DateFormat, k.LogicalDate); err != nil {
		return fmt.Errorf("invalid logical date %q: %w", k.LogicalDate, err)
	}
	return nil
}

// NewRunID mints a run ID for one pipeline execution.
func NewRunID() string {
	return time.Now().UTC().Format(runIDFormat)
}

// RunIDAt is NewRunID with an injected clock, for tests.
func RunIDAt(t time.Time) string {
	return t.UTC().Format(runIDFormat)
}

// CompareRunIDs returns a negative value if candidate sorts before existing,
// zero if equal, positive otherwise. Plain byte comparison is correct because
// run IDs are fixed-width UTC timestamps.
func CompareRunIDs(candidate, existing string) int {
	return strings.Compare(candidate, existing)
}
