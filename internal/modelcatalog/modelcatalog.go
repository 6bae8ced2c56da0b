// Package modelcatalog is the Model-List Service (spec §4.6): it fetches
// the upstream model catalog using a currently-acquired account, merges it
// with a fixed default list so well-known names are always present, caches
// the merged result with the pressure-sensitive TTL of cache.ModelListCache,
// and serves the default list unconditionally when no account is available.
// Grounded on the teacher's relay.go acquire-then-call shape, reused here
// for a GET instead of a chat completion.
package modelcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"antigravity-gateway/internal/accountpool"
	"antigravity-gateway/internal/cache"
	"antigravity-gateway/internal/transport"
)

// defaultModels is the fixed fallback list of §4.6, matching the model
// names protocol.MapModel and protocol.ThinkingEnabledForModel recognize.
var defaultModels = []string{
	"claude-sonnet-4-5",
	"claude-sonnet-4-5-thinking",
	"claude-opus-4-5",
	"claude-opus-4-5-thinking",
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.5-flash-thinking",
	"gemini-3-pro-preview",
}

// Catalog serves the merged model list and the cache-bypassing "quotas"
// view, per §4.6.
type Catalog struct {
	pool      *accountpool.Pool
	transport *transport.Manager
	modelsURL string
	userAgent string
	cache     *cache.ModelListCache
}

func New(pool *accountpool.Pool, tm *transport.Manager, modelsURL, userAgent string, listCache *cache.ModelListCache) *Catalog {
	return &Catalog{pool: pool, transport: tm, modelsURL: modelsURL, userAgent: userAgent, cache: listCache}
}

// List returns the merged, deduplicated, sorted model-name list, serving
// from cache when fresh. When no account is available or the upstream
// fetch fails, it returns a copy of defaultModels in declaration order
// (not sorted) and leaves the cache untouched.
func (c *Catalog) List(ctx context.Context) []string {
	if cached, ok := c.cache.Get(); ok {
		return namesOf(cached)
	}

	upstream, err := c.fetchUpstream(ctx)
	if err != nil || len(upstream) == 0 {
		return append([]string(nil), defaultModels...)
	}

	merged := mergeModels(upstream, defaultModels)
	c.cache.Set(merged)
	return namesOf(merged)
}

// Quotas skips the cache read and returns live per-model
// remaining-fraction/reset-time data, per §4.6's explicit "quotas" call;
// the fresh merged list is then stored in the cache.
func (c *Catalog) Quotas(ctx context.Context) ([]cache.ModelInfo, error) {
	upstream, err := c.fetchUpstream(ctx)
	if err != nil {
		return nil, err
	}
	merged := mergeModels(upstream, defaultModels)
	c.cache.Set(merged)
	return merged, nil
}

// upstreamModelList mirrors the upstream catalog response of spec §6:
// "models" is an object keyed by model id, each entry optionally carrying
// a nested quotaInfo rather than flat quota fields.
type upstreamModelList struct {
	Models map[string]struct {
		QuotaInfo *struct {
			RemainingFraction float64   `json:"remainingFraction"`
			ResetTime         time.Time `json:"resetTime"`
		} `json:"quotaInfo"`
	} `json:"models"`
}

func (c *Catalog) fetchUpstream(ctx context.Context) ([]cache.ModelInfo, error) {
	acct, err := c.pool.Acquire(ctx, accountpool.SelectOptions{})
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(acct, accountpool.OutcomeOK)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+acct.AccessToken)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.transport.Client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model catalog fetch: status %d", resp.StatusCode)
	}

	var list upstreamModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	out := make([]cache.ModelInfo, 0, len(list.Models))
	for id, m := range list.Models {
		info := cache.ModelInfo{ID: id, RemainingFraction: 1}
		if m.QuotaInfo != nil {
			info.RemainingFraction = m.QuotaInfo.RemainingFraction
			info.ResetTime = m.QuotaInfo.ResetTime
		}
		out = append(out, info)
	}
	return out, nil
}

// mergeModels unions upstream entries with the fixed default list,
// preferring the upstream entry's quota data when both name the same model,
// and sorts by name for a stable client-facing order.
func mergeModels(upstream []cache.ModelInfo, defaults []string) []cache.ModelInfo {
	seen := make(map[string]bool, len(upstream)+len(defaults))
	merged := make([]cache.ModelInfo, 0, len(upstream)+len(defaults))
	for _, m := range upstream {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	for _, name := range defaults {
		if seen[name] {
			continue
		}
		seen[name] = true
		merged = append(merged, cache.ModelInfo{ID: name, RemainingFraction: 1})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}

func namesOf(list []cache.ModelInfo) []string {
	names := make([]string, len(list))
	for i, m := range list {
		names[i] = m.ID
	}
	return names
}
