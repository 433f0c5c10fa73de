package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
metadata:
  dataset_timezone: UTC
  catch_up_window_days: 30
  lookback_days_daily: 2
storage:
  warehouse_uri: duckdb:///data/warehouse.db
  lake_bucket: adlake-raw
  state_store_table: partition_state
extractors:
  google_ads:
    api_version: v17
    login_customer_id: "9999999999"
    manager_account_id: "9999999999"
    customer_ids: "1234567890, 2345678901"
    ads_resource_queries:
      - name: campaign_stats
        entity: campaign
        date_column: segments.date
        fields:
          - campaign.id
          - campaign.name
          - metrics.clicks
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "google_apis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig), false)
	require.NoError(t, err)

	// comma separated scalar splits into a list
	assert.Equal(t, StringList{"1234567890", "2345678901"}, cfg.Extractors.GoogleAds.CustomerIDs)
	assert.Equal(t, "v17", cfg.Extractors.GoogleAds.APIVersion)
	assert.Equal(t, 2, cfg.Metadata.LookbackDaysDaily)
	assert.Equal(t, "USD", cfg.Metadata.DefaultCurrency) // default applied

	q, err := cfg.Query("campaign_stats")
	require.NoError(t, err)
	assert.Equal(t, "campaign", q.Entity)
	assert.Equal(t, []string{"campaign.id", "campaign.name", "metrics.clicks"}, q.Fields)

	_, err = cfg.Query("unknown_query")
	assert.Error(t, err)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_CUSTOMER_IDS", "1234567890")
	contents := `
extractors:
  google_ads:
    api_version: v17
    customer_ids: "${TEST_CUSTOMER_IDS}"
`
	cfg, err := Load(writeConfig(t, contents), true)
	require.NoError(t, err)
	assert.Equal(t, StringList{"1234567890"}, cfg.Extractors.GoogleAds.CustomerIDs)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "metadata:\n  no_such_field: 1\n"), false)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidQueries(t *testing.T) {
	contents := `
extractors:
  google_ads:
    ads_resource_queries:
      - name: broken
        entity: campaign
        fields: []
`
	_, err := Load(writeConfig(t, contents), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "config/google_apis.yaml", DefaultPath())

	t.Setenv(EnvConfigPath, "/etc/adlake/config.yaml")
	assert.Equal(t, "/etc/adlake/config.yaml", DefaultPath())
}
