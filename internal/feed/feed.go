package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"emergency-portal-backend/config"
)

// Feature is a single earthquake in the USGS GeoJSON summary feed.
type Feature struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	Properties Properties `json:"properties"`
	Geometry   Geometry   `json:"geometry"`
}

// Properties are the attributes of an earthquake. Mag is nil when the feed
// has not assigned a magnitude yet.
type Properties struct {
	Mag     *float64 `json:"mag"`
	Place   string   `json:"place"`
	Time    int64    `json:"time"`
	Updated int64    `json:"updated,omitempty"`
	Title   string   `json:"title"`
	URL     string   `json:"url,omitempty"`
	Alert   *string  `json:"alert,omitempty"`
	Tsunami int      `json:"tsunami,omitempty"`
	Felt    *int     `json:"felt,omitempty"`
	Sig     int      `json:"sig,omitempty"`
}

// Geometry holds [longitude, latitude, depth].
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Metadata describes the generated feed document.
type Metadata struct {
	Generated int64  `json:"generated"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Count     int    `json:"count"`
	Status    int    `json:"status"`
}

// Collection is the decoded feed. Features are ordered newest first.
type Collection struct {
	Type     string    `json:"type"`
	Metadata Metadata  `json:"metadata"`
	Features []Feature `json:"features"`
}

// Client fetches the earthquake feed over HTTP.
type Client struct {
	url    string
	client *http.Client
}

// NewClient builds a feed client from configuration. An invalid proxy URL is
// logged and ignored.
func NewClient(cfg config.FeedConfig) *Client {
	var transport http.RoundTripper = http.DefaultTransport
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			slog.Warn("invalid feed proxy URL; fetching without a proxy", "proxy", cfg.HTTPProxy, "error", err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		url: cfg.URL,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Fetch downloads and decodes the whole feed.
func (c *Client) Fetch(ctx context.Context) (*Collection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var collection Collection
	if err := json.Unmarshal(body, &collection); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feed: %w", err)
	}
	return &collection, nil
}

// Latest returns the newest feature, or nil when the feed is empty.
func (c *Client) Latest(ctx context.Context) (*Feature, error) {
	collection, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(collection.Features) == 0 {
		return nil, nil
	}
	return &collection.Features[0], nil
}
