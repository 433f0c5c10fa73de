package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

const (
	// EnvDeveloperToken and EnvAccessToken carry the upstream API credentials.
	EnvDeveloperToken = "GOOGLE_ADS_DEVELOPER_TOKEN"
	EnvAccessToken    = "GOOGLE_ADS_ACCESS_TOKEN"
	// EnvEndpoint overrides the API endpoint, mainly for tests.
	EnvEndpoint = "GOOGLE_ADS_ENDPOINT"

	defaultEndpoint = "https://googleads.googleapis.com"
)

// GoogleAdsClient streams report rows from the searchStream REST endpoint.
type GoogleAdsClient struct {
	endpoint        string
	apiVersion      string
	developerToken  string
	accessToken     string
	loginCustomerID string
	client          *http.Client
}

var _ ReportClient = (*GoogleAdsClient)(nil)

// NewGoogleAdsClient builds a client from the environment. loginCustomerID
// may be empty when no manager account sits above the queried customers.
func NewGoogleAdsClient(apiVersion, loginCustomerID string) (*GoogleAdsClient, error) {
	developerToken := os.Getenv(EnvDeveloperToken)
	if developerToken == "" {
		return nil, errors.Errorf("%s is required", EnvDeveloperToken)
	}
	accessToken := os.Getenv(EnvAccessToken)
	if accessToken == "" {
		return nil, errors.Errorf("%s is required", EnvAccessToken)
	}

	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	return &GoogleAdsClient{
		endpoint:        endpoint,
		apiVersion:      apiVersion,
		developerToken:  developerToken,
		accessToken:     accessToken,
		loginCustomerID: loginCustomerID,
		client:          &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

func (c *GoogleAdsClient) Search(ctx context.Context, customerID string, query string) (RowStream, error) {
	url := fmt.Sprintf("%s/%s/customers/%s/googleAds:searchStream", c.endpoint, c.apiVersion, customerID)

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, errors.Wrap(err, "marshaling search request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building search request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("developer-token", c.developerToken)
	if c.loginCustomerID != "" {
		req.Header.Set("login-customer-id", c.loginCustomerID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling searchStream")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		buff, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf("searchStream returned %d: %s", resp.StatusCode, string(buff))
	}

	// the response is a JSON array of chunks, each carrying a results page
	dec := json.NewDecoder(resp.Body)
	if _, err := dec.Token(); err != nil {
		resp.Body.Close()
		return nil, errors.Wrap(err, "reading searchStream response")
	}
	return &searchStream{body: resp.Body, dec: dec}, nil
}

type searchChunk struct {
	Results []map[string]interface{} `json:"results"`
}

type searchStream struct {
	body    io.ReadCloser
	dec     *json.Decoder
	pending []map[string]interface{}
}

func (s *searchStream) Next() (map[string]interface{}, error) {
	for len(s.pending) == 0 {
		if !s.dec.More() {
			s.body.Close()
			return nil, io.EOF
		}
		var chunk searchChunk
		if err := s.dec.Decode(&chunk); err != nil {
			s.body.Close()
			return nil, errors.Wrap(err, "decoding searchStream chunk")
		}
		s.pending = chunk.Results
	}

	row := s.pending[0]
	s.pending = s.pending[1:]
	return row, nil
}
