// Package rawdb selects and wires raw sink backends. The raw sink owns all
// RawRun bytes; other components go through the backend.RawSink contract.
package rawdb

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/adlake/adlake/rawdb/backend"
	"github.com/adlake/adlake/rawdb/backend/local"
	"github.com/adlake/adlake/rawdb/backend/s3"
)

const (
	// EnvBackend selects the backend: "filesystem" (default) or "object".
	EnvBackend = "RAW_SINK"

	EnvRoot = "RAW_SINK_ROOT"

	EnvBucket      = "RAW_SINK_BUCKET"
	EnvPrefix      = "RAW_SINK_PREFIX"
	EnvEndpointURL = "RAW_SINK_ENDPOINT_URL"
	EnvRegion      = "RAW_SINK_REGION"
	EnvAccessKey   = "RAW_SINK_ACCESS_KEY_ID"
	EnvSecretKey   = "RAW_SINK_SECRET_ACCESS_KEY"

	defaultRoot   = "data/raw"
	defaultPrefix = "raw"
)

// FromEnv builds the raw sink described by the RAW_SINK_* environment.
func FromEnv() (backend.RawSink, error) {
	switch b := strings.ToLower(os.Getenv(EnvBackend)); b {
	case "", "filesystem":
		root := os.Getenv(EnvRoot)
		if root == "" {
			root = defaultRoot
		}
		return local.New(&local.Config{Path: root})
	case "object":
		bucket := os.Getenv(EnvBucket)
		if bucket == "" {
			return nil, errors.Errorf("%s is required for object storage", EnvBucket)
		}
		prefix := os.Getenv(EnvPrefix)
		if prefix == "" {
			prefix = defaultPrefix
		}
		endpoint, insecure := splitEndpoint(os.Getenv(EnvEndpointURL))
		return s3.NewNoConfirm(&s3.Config{
			Bucket:    bucket,
			Prefix:    prefix,
			Endpoint:  endpoint,
			Region:    os.Getenv(EnvRegion),
			AccessKey: os.Getenv(EnvAccessKey),
			SecretKey: os.Getenv(EnvSecretKey),
			Insecure:  insecure,
		})
	default:
		return nil, errors.Errorf("unsupported %s backend: %s", EnvBackend, b)
	}
}

// splitEndpoint accepts either a bare host:port or a URL with scheme; minio
// wants the former plus a TLS flag.
func splitEndpoint(endpointURL string) (endpoint string, insecure bool) {
	switch {
	case strings.HasPrefix(endpointURL, "http://"):
		return strings.TrimPrefix(endpointURL, "http://"), true
	case strings.HasPrefix(endpointURL, "https://"):
		return strings.TrimPrefix(endpointURL, "https://"), false
	default:
		return endpointURL, false
	}
}
