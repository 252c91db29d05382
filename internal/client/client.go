// Package client implements the upstream marketplace API client.
// It performs plain fetches with fixed timeouts and no internal retries;
// every failure is surfaced to the caller, which decides whether to skip
// the unit, default the facet, or abort the run.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/market-scanner/internal/config"
	scanerrors "github.com/market-scanner/internal/errors"
)

// Client talks to the upstream catalog and per-account detail endpoints
// over a shared connection pool
type Client struct {
	http          *resty.Client
	languageCode  string
	detailTimeout time.Duration
}

// New creates a new upstream client
func New(cfg *config.UpstreamConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.ListTimeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:          httpClient,
		languageCode:  cfg.LanguageCode,
		detailTimeout: cfg.DetailTimeout,
	}
}

// fetch performs one GET against an upstream endpoint and returns the raw
// contents of the {data: ...} envelope
func (c *Client) fetch(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(endpoint)
	if err != nil {
		if isTimeout(err) {
			return nil, scanerrors.NewUpstreamTimeoutError(endpoint)
		}
		return nil, scanerrors.NewUpstreamUnreachableError(endpoint, err)
	}

	if resp.StatusCode() != 200 {
		return nil, scanerrors.NewUpstreamHTTPError(endpoint, resp.StatusCode())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return env.Data, nil
}

// detailCtx applies the per-sub-call timeout ceiling
func (c *Client) detailCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.detailTimeout)
}

// isTimeout reports whether a transport error is a deadline expiry
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

// ListPage fetches one page of the sale catalog
func (c *Client) ListPage(ctx context.Context, page int) (*ListPage, error) {
	const endpoint = "/nft/lists"

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"listType":     "sale",
		"class":        "0",
		"levMin":       "0",
		"levMax":       "0",
		"powerMin":     "0",
		"powerMax":     "0",
		"priceMin":     "0",
		"priceMax":     "0",
		"sort":         "latest",
		"page":         fmt.Sprintf("%d", page),
		"languageCode": c.languageCode,
	})
	if err != nil {
		return nil, err
	}

	var pageData ListPage
	if err := json.Unmarshal(data, &pageData); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return &pageData, nil
}

// Summary fetches the per-account summary (basic info, price, trade type,
// seal timestamp and equipped items)
func (c *Client) Summary(ctx context.Context, seq string) (*Summary, error) {
	const endpoint = "/nft/character/summary"

	ctx, cancel := c.detailCtx(ctx)
	defer cancel()

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"seq":          seq,
		"languageCode": c.languageCode,
	})
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return &summary, nil
}

// Stats fetches the character stat list
func (c *Client) Stats(ctx context.Context, transportID string) ([]RawStat, error) {
	const endpoint = "/nft/character/stats"

	ctx, cancel := c.detailCtx(ctx)
	defer cancel()

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"transportID":  transportID,
		"languageCode": c.languageCode,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Lists []RawStat `json:"lists"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return payload.Lists, nil
}

// Inventory fetches the full account inventory
func (c *Client) Inventory(ctx context.Context, transportID string) ([]RawInventoryItem, error) {
	const endpoint = "/nft/character/inven"

	ctx, cancel := c.detailCtx(ctx)
	defer cancel()

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"transportID":  transportID,
		"languageCode": c.languageCode,
	})
	if err != nil {
		return nil, err
	}

	var items []RawInventoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return items, nil
}

// Codex fetches codex completion per category
func (c *Client) Codex(ctx context.Context, transportID string) (map[string]RawCodexEntry, error) {
	const endpoint = "/nft/character/codex"

	ctx, cancel := c.detailCtx(ctx)
	defer cancel()

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"transportID":  transportID,
		"languageCode": c.languageCode,
	})
	if err != nil {
		return nil, err
	}

	var entries map[string]RawCodexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return entries, nil
}

// Potential fetches the total potential score
func (c *Client) Potential(ctx context.Context, transportID string) (int, error) {
	const endpoint = "/nft/character/potential"

	ctx, cancel := c.detailCtx(ctx)
	defer cancel()

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"transportID":  transportID,
		"languageCode": c.languageCode,
	})
	if err != nil {
		return 0, err
	}

	var payload struct {
		Total FlexInt `json:"total"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return payload.Total.Int(), nil
}

// Spirit fetches equipped and stored spirits. Spirit names are requested in
// English so they line up with the downstream filter vocabulary regardless
// of the configured catalog language.
func (c *Client) Spirit(ctx context.Context, transportID string) (*SpiritData, error) {
	const endpoint = "/nft/character/spirit"

	ctx, cancel := c.detailCtx(ctx)
	defer cancel()

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"transportID":  transportID,
		"languageCode": "en",
	})
	if err != nil {
		return nil, err
	}

	var spirits SpiritData
	if err := json.Unmarshal(data, &spirits); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return &spirits, nil
}

// Training fetches training progression levels
func (c *Client) Training(ctx context.Context, transportID string) (*TrainingData, error) {
	const endpoint = "/nft/character/training"

	ctx, cancel := c.detailCtx(ctx)
	defer cancel()

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"transportID":  transportID,
		"languageCode": c.languageCode,
	})
	if err != nil {
		return nil, err
	}

	var training TrainingData
	if err := json.Unmarshal(data, &training); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return &training, nil
}

// Skills fetches the class skill list
func (c *Client) Skills(ctx context.Context, transportID, class string) ([]RawSkill, error) {
	const endpoint = "/nft/character/skills"

	ctx, cancel := c.detailCtx(ctx)
	defer cancel()

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"transportID":  transportID,
		"class":        class,
		"languageCode": c.languageCode,
	})
	if err != nil {
		return nil, err
	}

	var skills []RawSkill
	if err := json.Unmarshal(data, &skills); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return skills, nil
}

// Building fetches building levels keyed by building id
func (c *Client) Building(ctx context.Context, transportID string) (map[string]RawBuilding, error) {
	const endpoint = "/nft/character/building"

	ctx, cancel := c.detailCtx(ctx)
	defer cancel()

	data, err := c.fetch(ctx, endpoint, map[string]string{
		"transportID":  transportID,
		"languageCode": c.languageCode,
	})
	if err != nil {
		return nil, err
	}

	var buildings map[string]RawBuilding
	if err := json.Unmarshal(data, &buildings); err != nil {
		return nil, scanerrors.NewMalformedResponseError(endpoint, err)
	}

	return buildings, nil
}
