package extractor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlake/adlake/pkg/config"
	"github.com/adlake/adlake/pkg/partition"
	"github.com/adlake/adlake/rawdb/backend"
	"github.com/adlake/adlake/rawdb/backend/local"
)

type fakeStream struct {
	rows []map[string]interface{}
	err  error
	pos  int
}

func (s *fakeStream) Next() (map[string]interface{}, error) {
	if s.pos >= len(s.rows) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

type fakeClient struct {
	stream    *fakeStream
	lastQuery string
	err       error
}

func (c *fakeClient) Search(_ context.Context, _ string, query string) (RowStream, error) {
	c.lastQuery = query
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

func campaignStatsQuery() *config.QueryDefinition {
	return &config.QueryDefinition{
		Name:       "campaign_stats",
		Entity:     "campaign",
		DateColumn: "segments.date",
		Fields:     []string{"campaign.id", "campaign.name", "metrics.clicks"},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Extractors: config.ExtractorsConfig{
			GoogleAds: config.GoogleAdsConfig{
				APIVersion:  "v17",
				CustomerIDs: config.StringList{"1234567890"},
				Queries:     []config.QueryDefinition{*campaignStatsQuery()},
			},
		},
	}
}

func nestedRow(id string, name string, clicks float64) map[string]interface{} {
	return map[string]interface{}{
		"campaign": map[string]interface{}{"id": id, "name": name},
		"metrics":  map[string]interface{}{"clicks": clicks},
	}
}

func TestBuildQuery(t *testing.T) {
	start := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t,
		"SELECT campaign.id, campaign.name, metrics.clicks FROM campaign WHERE segments.date BETWEEN '2024-06-08' AND '2024-06-10'",
		BuildQuery(campaignStatsQuery(), start, end))
}

func TestFlattenRow(t *testing.T) {
	flat := FlattenRow(nestedRow("42", "brand", 10), campaignStatsQuery())

	assert.Equal(t, map[string]interface{}{
		"campaign_id":    "42",
		"campaign_name":  "brand",
		"metrics_clicks": float64(10),
		"__query_name":   "campaign_stats",
	}, flat)
}

func TestFlattenRowMissingPath(t *testing.T) {
	flat := FlattenRow(map[string]interface{}{"campaign": map[string]interface{}{"id": "42"}}, campaignStatsQuery())

	assert.Equal(t, "42", flat["campaign_id"])
	assert.Nil(t, flat["metrics_clicks"])
	assert.Nil(t, flat["campaign_name"])
}

func TestExtractPartition(t *testing.T) {
	sink, err := local.New(&local.Config{Path: t.TempDir()})
	require.NoError(t, err)

	client := &fakeClient{stream: &fakeStream{rows: []map[string]interface{}{
		nestedRow("1", "a", 10),
		nestedRow("2", "b", 20),
		nestedRow("3", "c", 30),
	}}}

	runID := "2024-06-10T00:00:00.000Z"
	e := New(client, testConfig(), sink, runID, log.NewNopLogger())

	ctx := context.Background()
	start := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.ExtractPartition(ctx, campaignStatsQuery(), "1234567890", "2024-06-10", start, end))

	key := partition.Key{Source: SourceName, CustomerID: "1234567890", QueryName: "campaign_stats", LogicalDate: "2024-06-10"}
	r, err := sink.OpenRun(ctx, key, runID)
	require.NoError(t, err)

	meta, err := r.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.RecordCount)
	assert.Equal(t, "v1", meta.SchemaVersion)
	assert.Equal(t, "v17", meta.APIVersion)
	assert.Equal(t, client.lastQuery, meta.QuerySignature)
	assert.Equal(t, runID, meta.RunID)

	iter, err := r.Rows(ctx)
	require.NoError(t, err)
	defer iter.Close()

	row, err := iter.Next()
	require.NoError(t, err)
	assert.Equal(t, "campaign_stats", row["__query_name"])
	assert.Equal(t, "1", row["campaign_id"])
}

func TestExtractPartitionStreamErrorLeavesRunUnfinalized(t *testing.T) {
	sink, err := local.New(&local.Config{Path: t.TempDir()})
	require.NoError(t, err)

	client := &fakeClient{stream: &fakeStream{
		rows: []map[string]interface{}{nestedRow("1", "a", 10)},
		err:  errors.New("stream reset"),
	}}

	runID := "2024-06-10T00:00:00.000Z"
	e := New(client, testConfig(), sink, runID, log.NewNopLogger())

	ctx := context.Background()
	start := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	err = e.ExtractPartition(ctx, campaignStatsQuery(), "1234567890", "2024-06-10", start, end)
	require.Error(t, err)

	// no finalize happened, so the run must read as absent
	key := partition.Key{Source: SourceName, CustomerID: "1234567890", QueryName: "campaign_stats", LogicalDate: "2024-06-10"}
	_, err = sink.OpenRun(ctx, key, runID)
	assert.ErrorIs(t, err, backend.ErrDoesNotExist)
}

func TestExtractPartitionCanceledMidStreamDoesNotFinalize(t *testing.T) {
	sink, err := local.New(&local.Config{Path: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{stream: &fakeStream{rows: []map[string]interface{}{nestedRow("1", "a", 10)}}}

	runID := "2024-06-10T00:00:00.000Z"
	e := New(client, testConfig(), sink, runID, log.NewNopLogger())

	start := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	cancel()
	err = e.ExtractPartition(ctx, campaignStatsQuery(), "1234567890", "2024-06-10", start, end)
	require.Error(t, err)

	key := partition.Key{Source: SourceName, CustomerID: "1234567890", QueryName: "campaign_stats", LogicalDate: "2024-06-10"}
	_, err = sink.OpenRun(ctx, key, runID)
	assert.Error(t, err)
}
