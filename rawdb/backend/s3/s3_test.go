package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/rawdb/backend"
)

func TestObjectName(t *testing.T) {
	key := partition.Key{
		Source:      "google_ads",
		CustomerID:  "1234567890",
		QueryName:   "campaign_stats",
		LogicalDate: "2024-06-10",
	}
	runID := "2024-06-10T00:00:00.000Z"

	tests := []struct {
		prefix   string
		expected string
	}{
		{
			prefix:   "raw",
			expected: "raw/google_ads/customer_id=1234567890/query_name=campaign_stats/logical_date=2024-06-10/run_id=2024-06-10T00:00:00.000Z/metadata.json",
		},
		{
			prefix:   "/raw/",
			expected: "raw/google_ads/customer_id=1234567890/query_name=campaign_stats/logical_date=2024-06-10/run_id=2024-06-10T00:00:00.000Z/metadata.json",
		},
		{
			prefix:   "",
			expected: "google_ads/customer_id=1234567890/query_name=campaign_stats/logical_date=2024-06-10/run_id=2024-06-10T00:00:00.000Z/metadata.json",
		},
	}

	for _, tc := range tests {
		rw := &Backend{cfg: &Config{Bucket: "lake", Prefix: tc.prefix}}
		assert.Equal(t, tc.expected, rw.objectName(backend.MetaFileName(key, runID)))
	}
}

func TestRunIDFromCommonPrefix(t *testing.T) {
	runID, ok := backend.RunIDFromDirName("run_id=2024-06-10T00:00:00.000Z")
	assert.True(t, ok)
	assert.Equal(t, "2024-06-10T00:00:00.000Z", runID)

	_, ok = backend.RunIDFromDirName("metadata.json")
	assert.False(t, ok)

	_, ok = backend.RunIDFromDirName("run_id=")
	assert.False(t, ok)
}
