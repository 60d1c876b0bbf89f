// Package floors fetches premium-backdrop floor prices per model and keeps
// the floor cache class populated.
package floors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gift-pricer/internal/models"

	"github.com/go-resty/resty/v2"
)

// ErrUpstream marks a floor request that failed at the transport or payload level.
var ErrUpstream = errors.New("floor upstream failure")

type Client struct {
	baseURL string
	client  *resty.Client
}

type floorsResponse struct {
	ModelBackgrounds map[string]map[string]interface{} `json:"model_backgrounds"`
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json, text/plain, */*")

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// ModelFloors returns the floor price of each premium backdrop listed for model.
// Backdrops without a positive price are omitted.
func (c *Client) ModelFloors(ctx context.Context, model, credential string) (map[string]float64, error) {
	endpoint := fmt.Sprintf("%s/api/collections/models/backgrounds/floors?models=%s", c.baseURL, url.QueryEscape(model))

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", credential).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("floors %q: %v: %w", model, err, ErrUpstream)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("floors %q: HTTP %d: %w", model, resp.StatusCode(), ErrUpstream)
	}

	var payload floorsResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("floors %q: decode: %v: %w", model, err, ErrUpstream)
	}

	backdrops := payload.ModelBackgrounds[model]
	result := make(map[string]float64, len(models.PremiumBackdrops))
	for _, backdrop := range models.PremiumBackdrops {
		if price, ok := models.ParseAmount(backdrops[backdrop]); ok {
			result[backdrop] = price
		}
	}
	return result, nil
}
