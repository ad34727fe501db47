// Package tronscan fetches recent block hashes from a TRON block explorer.
// The hashes seed the fairness-proof pools; the scheduler never depends on
// this API being up.
package tronscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultBaseURL = "https://apilist.tronscanapi.com"
	defaultTimeout = 15 * time.Second
)

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type blockListResponse struct {
	Data []struct {
		Hash   string `json:"hash"`
		Number int64  `json:"number"`
	} `json:"data"`
}

// LatestBlockHashes returns the hashes of the most recent blocks, newest
// first.
func (c *Client) LatestBlockHashes(ctx context.Context, limit int) ([]string, error) {
	url := fmt.Sprintf("%s/api/block?sort=-number&start=0&limit=%d", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build block request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blocks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("block API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed blockListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode block response: %w", err)
	}

	hashes := make([]string, 0, len(parsed.Data))
	for _, b := range parsed.Data {
		if b.Hash != "" {
			hashes = append(hashes, b.Hash)
		}
	}
	return hashes, nil
}
