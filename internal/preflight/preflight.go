// Package preflight fetches the tenant/asset universe from the gateway's
// REST info endpoint before the WebSocket connection is opened. Out-of-
// scope collaborator (spec.md §1): enough to resolve the tenant dex and
// derive local asset indices, not a general REST client. Grounded on the
// teacher's internal/exchange/client.go (resty client with timeout/retry)
// and internal/market/scanner.go (poll-then-filter discovery shape).
package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hip3/dislocated/internal/values"
)

// Tenant is one entry of the "perpDexs" response.
type Tenant struct {
	Name string `json:"name"`
}

// AssetMeta is one entry of a tenant's "meta" universe response, in the
// authoritative order local asset indices are derived from.
type AssetMeta struct {
	Name string `json:"name"`
}

// Client is the preflight REST client.
type Client struct {
	http *resty.Client
}

// New builds a preflight client against infoURL, timing requests out after
// 10s as the teacher's exchange client does for REST calls.
func New(infoURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(infoURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &Client{http: httpClient}
}

// ResolveTenant finds the first tenant whose name matches pattern
// (case-insensitive substring), per spec.md §6's xyz_pattern rule.
func (c *Client) ResolveTenant(ctx context.Context, pattern string) (values.DexId, string, error) {
	var tenants []Tenant
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"type": "perpDexs"}).
		SetResult(&tenants).
		Post("/info")
	if err != nil {
		return 0, "", fmt.Errorf("fetch perpDexs: %w", err)
	}
	if resp.StatusCode() != 200 {
		return 0, "", fmt.Errorf("fetch perpDexs: status %d: %s", resp.StatusCode(), resp.String())
	}

	needle := strings.ToLower(pattern)
	for i, t := range tenants {
		if strings.Contains(strings.ToLower(t.Name), needle) {
			return values.DexId(i), t.Name, nil
		}
	}
	return 0, "", fmt.Errorf("no tenant matching %q", pattern)
}

// FetchAssetUniverse fetches the ordered asset universe for a tenant; the
// slice index is the local AssetId used to build MarketKeys.
func (c *Client) FetchAssetUniverse(ctx context.Context, dexName string) ([]AssetMeta, error) {
	var meta struct {
		Universe []AssetMeta `json:"universe"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"type": "meta", "dex": dexName}).
		SetResult(&meta).
		Post("/info")
	if err != nil {
		return nil, fmt.Errorf("fetch meta: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch meta: status %d: %s", resp.StatusCode(), resp.String())
	}
	return meta.Universe, nil
}
