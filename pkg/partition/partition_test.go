package partition

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIDFormat(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 34, 56, 789_000_000, time.UTC)
	assert.Equal(t, "2024-06-01T12:34:56.789Z", RunIDAt(ts))

	// non-UTC inputs are normalized
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2024-06-01T12:34:56.789Z", RunIDAt(ts.In(est)))
}

func TestRunIDOrderAgreesWithTime(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{
		RunIDAt(base.Add(3 * time.Hour)),
		RunIDAt(base.Add(time.Millisecond)),
		RunIDAt(base),
		RunIDAt(base.Add(30 * time.Minute)),
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	assert.Equal(t, []string{ids[2], ids[1], ids[3], ids[0]}, sorted)
	assert.Negative(t, CompareRunIDs(ids[2], ids[0]))
	assert.Positive(t, CompareRunIDs(ids[0], ids[3]))
	assert.Zero(t, CompareRunIDs(ids[1], ids[1]))
}

func TestKeyValidate(t *testing.T) {
	valid := Key{Source: "google_ads", CustomerID: "1234567890", QueryName: "campaign_stats", LogicalDate: "2024-06-10"}
	require.NoError(t, valid.Validate())

	tests := []Key{
		{CustomerID: "1", QueryName: "q", LogicalDate: "2024-06-10"},
		{Source: "s", QueryName: "q", LogicalDate: "2024-06-10"},
		{Source: "s", CustomerID: "1", LogicalDate: "2024-06-10"},
		{Source: "s", CustomerID: "1", QueryName: "q"},
		{Source: "s", CustomerID: "1", QueryName: "q", LogicalDate: "06/10/2024"},
	}
	for _, k := range tests {
		assert.Error(t, k.Validate(), "expected %q to fail validation", k.String())
	}
}
