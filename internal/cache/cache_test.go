package cache

import (
	"testing"
	"time"

	"antigravity-gateway/internal/pressure"
)

func TestSignatureCacheRoundTrips(t *testing.T) {
	src := pressure.NewSource()
	c := NewSignatureCache(src)

	if _, ok := c.Get("sess1", "gemini-2.5-flash"); ok {
		t.Fatal("expected miss before any Set")
	}
	c.Set("sess1", "gemini-2.5-flash", "sig-abc")
	sig, ok := c.Get("sess1", "gemini-2.5-flash")
	if !ok || sig != "sig-abc" {
		t.Fatalf("expected sig-abc, got %q ok=%v", sig, ok)
	}
}

func TestSignatureCacheClearsUnderCriticalPressure(t *testing.T) {
	src := pressure.NewSource()
	c := NewSignatureCache(src)
	c.Set("sess1", "model-a", "sig-1")

	src.Set(pressure.Critical)
	if _, ok := c.Get("sess1", "model-a"); ok {
		t.Fatal("signature cache should be cleared under critical pressure")
	}
}

func TestToolNameCacheSanitizesAndRestores(t *testing.T) {
	src := pressure.NewSource()
	c := NewToolNameCache(src)

	sanitized := c.Sanitize("sess1", "model-a", "get weather.v2")
	if sanitized == "get weather.v2" {
		t.Fatal("name with spaces/dots should be sanitized")
	}
	original, ok := c.Original("sess1", "model-a", sanitized)
	if !ok || original != "get weather.v2" {
		t.Fatalf("expected original name restored, got %q ok=%v", original, ok)
	}
}

func TestToolNameCacheLeavesCleanNamesUnmapped(t *testing.T) {
	src := pressure.NewSource()
	c := NewToolNameCache(src)

	sanitized := c.Sanitize("sess1", "model-a", "get_weather")
	if sanitized != "get_weather" {
		t.Fatalf("clean name should pass through unchanged, got %q", sanitized)
	}
	if _, ok := c.Original("sess1", "model-a", sanitized); ok {
		t.Fatal("unchanged name should not record a mapping")
	}
}

func TestModelListCacheTTLCapsUnderPressure(t *testing.T) {
	src := pressure.NewSource()
	c := NewModelListCache(src, time.Hour)
	c.Set([]ModelInfo{{ID: "gemini-2.5-flash"}})

	if _, ok := c.Get(); !ok {
		t.Fatal("expected fresh cache hit")
	}

	src.Set(pressure.Critical)
	c.mu.Lock()
	c.fetchedAt = time.Now().Add(-6 * time.Minute)
	c.mu.Unlock()

	if _, ok := c.Get(); ok {
		t.Fatal("5-minute critical TTL cap should have expired a 6-minute-old entry")
	}
}
