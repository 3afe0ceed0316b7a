// Package geocode resolves GPS coordinates into human-readable place
// names. Failures are expected and non-fatal: callers treat any error as
// "no name available".
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Resolver turns coordinates into a display name.
type Resolver interface {
	Resolve(ctx context.Context, lat, lng float64) (string, error)
}

// Client is a Nominatim-style reverse geocoding client.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a resolver against a Nominatim-compatible endpoint.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type reverseResponse struct {
	Address struct {
		Neighbourhood string `json:"neighbourhood"`
		Suburb        string `json:"suburb"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		Country       string `json:"country"`
	} `json:"address"`
	DisplayName string `json:"display_name"`
}

func (c *Client) Resolve(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	q.Set("format", "jsonv2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode failed with status %d", resp.StatusCode)
	}

	var result reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("could not decode response: %w", err)
	}
	return placeName(result), nil
}

// placeName prefers the most local non-empty component, falling back to
// the raw display name.
func placeName(r reverseResponse) string {
	a := r.Address
	locality := firstNonEmpty(a.City, a.Town, a.Village)
	area := firstNonEmpty(a.Neighbourhood, a.Suburb)

	switch {
	case area != "" && locality != "":
		return area + ", " + locality
	case locality != "":
		return locality
	case area != "":
		return area
	default:
		return r.DisplayName
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
