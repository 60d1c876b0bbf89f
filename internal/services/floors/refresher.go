package floors

import (
	"context"
	"log"
	"sync"
	"time"

	"gift-pricer/internal/cache"
	"gift-pricer/internal/models"
)

// PriorityModels are refreshed on every cycle.
var PriorityModels = []string{
	"Saturn V", "El Classico", "Far Out", "Ice Cold", "Jazz Cigarette", "Oil Baron",
	"Pink Plume", "Psychonaut", "Short Fuse", "Spectral Smoke", "Super Swirls",
	"The Shocker", "Crypto Queen", "Bitcoin", "TON",
}

type Refresher struct {
	fanout *Fanout
	creds  CredentialSource
	cache  *cache.Manager
	models []string

	mu          sync.Mutex
	lastRefresh time.Time
	now         func() time.Time
}

func NewRefresher(fanout *Fanout, creds CredentialSource, c *cache.Manager, modelNames []string) *Refresher {
	if len(modelNames) == 0 {
		modelNames = PriorityModels
	}
	return &Refresher{
		fanout: fanout,
		creds:  creds,
		cache:  c,
		models: modelNames,
		now:    time.Now,
	}
}

// Refresh fetches every configured model and merges the successes into the
// floor class in one step. It returns how many keys were written; zero means
// the previous snapshot was left as it was.
func (r *Refresher) Refresh(ctx context.Context) int {
	r.mu.Lock()
	r.lastRefresh = r.now()
	r.mu.Unlock()
	return r.refresh(ctx)
}

func (r *Refresher) refresh(ctx context.Context) int {
	credential, ok := r.creds.Credential()
	if !ok {
		log.Printf("[floors] 无可用凭证，保留现有地板价")
		return 0
	}

	index := r.fanout.FetchFloors(ctx, r.models, credential)
	if len(index) == 0 {
		log.Printf("[floors] 本轮无成功结果，保留现有地板价")
		return 0
	}

	values := make(map[string]interface{}, len(index))
	for key, price := range index {
		values[key.String()] = price
	}
	r.cache.SetMany(cache.ClassFloor, values)
	log.Printf("[floors] 更新 %d 个地板价", len(values))
	return len(values)
}

// claimRefresh reports whether the snapshot is older than the floor TTL and,
// if so, stamps it so that concurrent callers in the same window do not also refresh.
func (r *Refresher) claimRefresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if !r.lastRefresh.IsZero() && now.Sub(r.lastRefresh) < r.cache.TTL(cache.ClassFloor) {
		return false
	}
	r.lastRefresh = now
	return true
}

// Lookup returns the floor for key, refreshing first if the snapshot is older
// than the floor TTL, and falling back to the last known value.
func (r *Refresher) Lookup(ctx context.Context, key models.FloorKey) (float64, bool) {
	k := key.String()
	if v, ok := cache.Lookup[float64](r.cache, cache.ClassFloor, k); ok {
		return v, true
	}
	if r.claimRefresh() {
		r.refresh(ctx)
		if v, ok := cache.Lookup[float64](r.cache, cache.ClassFloor, k); ok {
			return v, true
		}
	}
	return cache.LookupStale[float64](r.cache, cache.ClassFloor, k)
}
