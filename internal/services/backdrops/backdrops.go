// Package backdrops reads per-collection backdrop floor tables.
package backdrops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"gift-pricer/internal/cache"
	"gift-pricer/internal/models"

	"github.com/go-resty/resty/v2"
)

var ErrUpstream = errors.New("backdrop upstream failure")

// Table maps a backdrop name to its floor price in TON.
type Table map[string]float64

// CredentialSource matches floors.CredentialSource.
type CredentialSource interface {
	Credential() (string, bool)
}

type filtersResponse struct {
	FloorPrices map[string]struct {
		Backdrops map[string]interface{} `json:"backdrops"`
	} `json:"floor_prices"`
}

type Client struct {
	baseURL string
	client  *resty.Client
	creds   CredentialSource
	cache   *cache.Manager
}

func NewClient(baseURL string, timeout time.Duration, creds CredentialSource, c *cache.Manager) *Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json, text/plain, */*")

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		creds:   creds,
		cache:   c,
	}
}

// FetchTable requests the backdrop table of one collection, identified by its normalized short name.
func (c *Client) FetchTable(ctx context.Context, shortName string) (Table, error) {
	credential, ok := c.creds.Credential()
	if !ok {
		return nil, fmt.Errorf("no credential: %w", ErrUpstream)
	}

	endpoint := fmt.Sprintf("%s/api/collections/filters?short_names=%s", c.baseURL, url.QueryEscape(shortName))
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", credential).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("filters %q: %v: %w", shortName, err, ErrUpstream)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("filters %q: HTTP %d: %w", shortName, resp.StatusCode(), ErrUpstream)
	}
	if len(strings.TrimSpace(string(resp.Body()))) == 0 {
		return nil, fmt.Errorf("filters %q: empty body: %w", shortName, ErrUpstream)
	}

	var payload filtersResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("filters %q: decode: %v: %w", shortName, err, ErrUpstream)
	}
	entry, ok := payload.FloorPrices[shortName]
	if !ok {
		return nil, fmt.Errorf("filters %q: collection missing: %w", shortName, ErrUpstream)
	}

	table := make(Table, len(entry.Backdrops))
	for name, raw := range entry.Backdrops {
		if price, ok := models.ParseAmount(raw); ok {
			table[name] = price
		}
	}
	return table, nil
}

// BackdropPrice returns the floor of backdrop within the collection. The table
// is cached in the backdrop class; on upstream failure the last known table is used.
func (c *Client) BackdropPrice(ctx context.Context, shortName, backdrop string) (float64, bool) {
	if shortName == "" || backdrop == "" {
		return 0, false
	}

	table, ok := cache.Lookup[Table](c.cache, cache.ClassBackdrop, shortName)
	if !ok {
		fetched, err := c.FetchTable(ctx, shortName)
		if err != nil {
			log.Printf("[backdrops] %v", err)
			table, ok = cache.LookupStale[Table](c.cache, cache.ClassBackdrop, shortName)
			if !ok {
				return 0, false
			}
		} else {
			c.cache.Set(cache.ClassBackdrop, shortName, fetched)
			table = fetched
		}
	}

	price, ok := table[backdrop]
	return price, ok && price > 0
}
