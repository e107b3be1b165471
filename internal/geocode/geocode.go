// Package geocode resolves a free-form location string to coordinates via a
// Nominatim-style HTTP API. Best effort only: session creation never blocks
// on it.
package geocode

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

func New(baseURL, userAgent string) *Client {
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		http:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Forward geocodes a location string. Returns ok=false when the provider has
// no match; an error only for transport failures.
func (c *Client) Forward(location string) (lat, lng float64, ok bool, err error) {
	q := url.Values{}
	q.Set("q", location)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequest("GET", c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, false, fmt.Errorf("creating request: %w", err)
	}
	// Nominatim requires an identifying User-Agent
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, false, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, false, fmt.Errorf("reading response: %w", err)
	}

	first := gjson.GetBytes(body, "0")
	if !first.Exists() {
		return 0, 0, false, nil
	}

	return first.Get("lat").Float(), first.Get("lon").Float(), true, nil
}
