package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/live-weather-tracker/internal/common"
	"github.com/i474232898/live-weather-tracker/internal/weather"
)

// Client implements weather.API against the tracker server's REST endpoints.
// Reads are retried with backoff; add and delete are sent exactly once. Reads
// and writes trip separate circuit breakers.
type Client struct {
	baseURL string
	reads   endpoint
	writes  endpoint
}

var _ weather.API = (*Client)(nil)

// NewClient builds a Client for baseURL (e.g. http://localhost:5000).
func NewClient(client *http.Client, baseURL string, readBackoff BackoffConfig) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base url %q: scheme must be http or https", baseURL)
	}
	if readBackoff.InitialInterval <= 0 {
		readBackoff.InitialInterval = 500 * time.Millisecond
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		reads:   newEndpoint("tracker-api-reads", client, readBackoff),
		writes: newEndpoint("tracker-api-writes", client, BackoffConfig{
			MaxRetries:      0,
			InitialInterval: readBackoff.InitialInterval,
		}),
	}, nil
}

// ListRecords fetches the full record set, in the order the server returns it.
func (c *Client) ListRecords(ctx context.Context) ([]weather.Record, error) {
	resp, err := c.reads.do(ctx, c.request(http.MethodGet, "/weather"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var records []weather.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: decode weather list: %v", common.ErrParse, err)
	}
	if records == nil {
		records = []weather.Record{}
	}
	return records, nil
}

// AddRecord asks the server to synthesize a new record. The response body is ignored.
func (c *Client) AddRecord(ctx context.Context) error {
	resp, err := c.writes.do(ctx, c.request(http.MethodPost, "/add"))
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// DeleteRecord deletes id on the server. Any 2xx is success.
func (c *Client) DeleteRecord(ctx context.Context, id int64) error {
	build := func() (*http.Request, error) {
		req, err := c.request(http.MethodDelete, "/delete/"+strconv.FormatInt(id, 10))()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	resp, err := c.writes.do(ctx, build)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// ListCities returns the distinct city names known to the server. The server
// answers either with plain strings or with {"city": ...} rows.
func (c *Client) ListCities(ctx context.Context) ([]string, error) {
	resp, err := c.reads.do(ctx, c.request(http.MethodGet, "/api/cities"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode cities: %v", common.ErrParse, err)
	}

	cities := make([]string, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			cities = append(cities, name)
			continue
		}
		var row struct {
			City string `json:"city"`
		}
		if err := json.Unmarshal(item, &row); err != nil || row.City == "" {
			return nil, fmt.Errorf("%w: unexpected city entry %s", common.ErrParse, string(item))
		}
		cities = append(cities, row.City)
	}
	return cities, nil
}

func (c *Client) request(method, path string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(method, c.baseURL+path, nil)
	}
}
