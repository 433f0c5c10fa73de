// Package config loads the YAML pipeline configuration, optionally expanding
// environment variables in the file before parsing.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/drone/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// EnvConfigPath overrides the default config file location.
	EnvConfigPath = "ADLAKE_CONFIG_PATH"

	defaultPath = "config/google_apis.yaml"
)

// QueryDefinition describes one upstream report query.
type QueryDefinition struct {
	Name string `yaml:"name"`
	// Entity is the upstream resource queried FROM.
	Entity string `yaml:"entity"`
	// DateColumn is the field used for incremental syncs.
	DateColumn string   `yaml:"date_column"`
	Fields     []string `yaml:"fields"`
}

// StringList accepts either a YAML sequence or a comma separated scalar.
type StringList []string

func (l *StringList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var items []string
	if err := unmarshal(&items); err == nil {
		*l = items
		return nil
	}

	var joined string
	if err := unmarshal(&joined); err != nil {
		return err
	}
	*l = nil
	for _, item := range strings.Split(joined, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*l = append(*l, item)
		}
	}
	return nil
}

type GoogleAdsConfig struct {
	APIVersion       string            `yaml:"api_version"`
	LoginCustomerID  string            `yaml:"login_customer_id"`
	ManagerAccountID string            `yaml:"manager_account_id"`
	CustomerIDs      StringList        `yaml:"customer_ids"`
	Queries          []QueryDefinition `yaml:"ads_resource_queries"`
	IncrementalKeys  map[string]string `yaml:"incremental_keys,omitempty"`
}

type ExtractorsConfig struct {
	GoogleAds GoogleAdsConfig `yaml:"google_ads"`
}

type StorageConfig struct {
	WarehouseURI    string `yaml:"warehouse_uri"`
	LakeBucket      string `yaml:"lake_bucket"`
	StateStoreTable string `yaml:"state_store_table"`
}

type MetadataConfig struct {
	DatasetTimezone   string `yaml:"dataset_timezone"`
	DefaultCurrency   string `yaml:"default_currency"`
	CatchUpWindowDays int    `yaml:"catch_up_window_days"`
	LookbackDaysDaily int    `yaml:"lookback_days_daily"`
}

type Config struct {
	Metadata   MetadataConfig   `yaml:"metadata"`
	Storage    StorageConfig    `yaml:"storage"`
	Extractors ExtractorsConfig `yaml:"extractors"`
}

func (c *Config) applyDefaults() {
	if c.Metadata.DatasetTimezone == "" {
		c.Metadata.DatasetTimezone = "UTC"
	}
	if c.Metadata.DefaultCurrency == "" {
		c.Metadata.DefaultCurrency = "USD"
	}
	if c.Metadata.CatchUpWindowDays == 0 {
		c.Metadata.CatchUpWindowDays = 30
	}
	if c.Metadata.LookbackDaysDaily == 0 {
		c.Metadata.LookbackDaysDaily = 2
	}
}

func (c *Config) validate() error {
	seen := map[string]struct{}{}
	for _, q := range c.Extractors.GoogleAds.Queries {
		if q.Name == "" {
			return errors.New("query definition without a name")
		}
		if _, ok := seen[q.Name]; ok {
			return errors.Errorf("duplicate query definition %q", q.Name)
		}
		seen[q.Name] = struct{}{}
		if q.Entity == "" || q.DateColumn == "" || len(q.Fields) == 0 {
			return errors.Errorf("query definition %q needs entity, date_column and fields", q.Name)
		}
	}
	return nil
}

// Query returns the named query definition.
func (c *Config) Query(name string) (*QueryDefinition, error) {
	for i := range c.Extractors.GoogleAds.Queries {
		if c.Extractors.GoogleAds.Queries[i].Name == name {
			return &c.Extractors.GoogleAds.Queries[i], nil
		}
	}
	return nil, errors.Errorf("query definition %q not found in configuration", name)
}

// DefaultPath resolves the config file location from the environment.
func DefaultPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	return defaultPath
}

// Load reads, optionally env-expands, and strictly parses the config file.
func Load(path string, expandEnv bool) (*Config, error) {
	buff, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configFile %s: %w", path, err)
	}

	if expandEnv {
		s, err := envsubst.EvalEnv(string(buff))
		if err != nil {
			return nil, fmt.Errorf("failed to expand env vars from configFile %s: %w", path, err)
		}
		buff = []byte(s)
	}

	cfg := &Config{}
	if err := yaml.UnmarshalStrict(buff, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configFile %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}
