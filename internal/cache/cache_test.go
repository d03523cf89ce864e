package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
)

func TestPageKey(t *testing.T) {
	a := PageKey("https://outage.report/ca/rogers")
	b := PageKey("https://outage.report/ca/bell")
	if a == b {
		t.Error("different URLs should produce different keys")
	}
	if !strings.HasPrefix(a, "outagelens:v1:page:") {
		t.Errorf("unexpected key prefix: %s", a)
	}
	if ModelKey(model.ProviderBell, "temporal/v1/minmax/8") != "outagelens:v1:model:BELL:temporal/v1/minmax/8" {
		t.Errorf("unexpected model key: %s", ModelKey(model.ProviderBell, "temporal/v1/minmax/8"))
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss")
	}
	if err := c.Set("k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get("k")
	if !ok || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if c.Stats.Hits() != 1 || c.Stats.Misses() != 1 {
		t.Errorf("stats = %d hits / %d misses, want 1/1", c.Stats.Hits(), c.Stats.Misses())
	}
}

func TestDiskCache_RoundTripAndExpiry(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := PageKey("https://example.com/forum")
	if err := c.Set(key, []byte("<html/>"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok := c.Get(key)
	if !ok || string(got) != "<html/>" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	now = now.Add(2 * time.Hour)
	if _, ok := c.Get(key); ok {
		t.Error("expired entry should miss")
	}
	files, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	if len(files) != 0 {
		t.Errorf("expired entry should be removed, found %v", files)
	}
}

func TestDiskCache_Prune(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set("short", []byte("a"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := c.Set("long", []byte("b"), 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	now = now.Add(10 * time.Minute)
	removed, err := c.Prune()
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("unexpired entry should survive pruning")
	}
}

func TestDiskCache_DeleteMissing(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Hour)
	if err := c.Delete("nope"); err != nil {
		t.Errorf("deleting a missing entry should succeed, got %v", err)
	}
}

func TestLayeredCache_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	writer := NewLayeredCache(time.Minute, dir, time.Hour)
	if err := writer.Set("k", []byte("page"), 0); err != nil {
		t.Fatal(err)
	}

	// A fresh process sees only the disk layer
	reader := NewLayeredCache(time.Minute, dir, time.Hour)
	if got, ok := reader.Get("k"); !ok || string(got) != "page" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if _, ok := reader.memory.Get("k"); !ok {
		t.Error("disk hit should be promoted to memory")
	}
}

func TestLayeredCache_StatsCountEachLookupOnce(t *testing.T) {
	dir := t.TempDir()
	if err := NewDiskCache(dir, time.Hour).Set("k", []byte("page"), 0); err != nil {
		t.Fatal(err)
	}

	c := NewLayeredCache(time.Minute, dir, time.Hour)
	c.Get("k")       // disk hit
	c.Get("k")       // memory hit
	c.Get("missing") // miss in both layers

	if got := c.Stats().Hits(); got != 2 {
		t.Errorf("Hits = %d, want 2", got)
	}
	if got := c.Stats().Misses(); got != 1 {
		t.Errorf("Misses = %d, want 1", got)
	}
}

func TestLayeredCache_PromotionNeverOutlivesDisk(t *testing.T) {
	dir := t.TempDir()
	if err := NewDiskCache(dir, time.Hour).Set("k", []byte("page"), 0); err != nil {
		t.Fatal(err)
	}

	c := NewLayeredCache(time.Hour, dir, time.Hour)
	c.disk.now = func() time.Time { return time.Now().Add(59 * time.Minute) }
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected disk hit")
	}

	_, expires, ok := c.memory.cache.GetWithExpiration("k")
	if !ok {
		t.Fatal("disk hit should be promoted to memory")
	}
	if expires.After(time.Now().Add(2 * time.Minute)) {
		t.Errorf("promoted entry expires at %v, past the disk expiry", expires)
	}
}

func TestLayeredCache_Delete(t *testing.T) {
	c := NewLayeredCache(time.Minute, t.TempDir(), time.Hour)
	if err := c.Set("k", []byte("page"), 0); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("deleted page should miss in both layers")
	}
}

func TestFromConfig_Disabled(t *testing.T) {
	c := FromConfig(model.CacheConfig{Enabled: false})
	if _, ok := c.(Nop); !ok {
		t.Fatalf("expected Nop cache, got %T", c)
	}
	_ = c.Set("k", []byte("v"), 0)
	if _, ok := c.Get("k"); ok {
		t.Error("Nop cache should never hit")
	}
}

func TestMemo_GetOrLoad(t *testing.T) {
	m := NewMemo[*int](0)
	calls := 0
	load := func() (*int, error) {
		calls++
		v := 42
		return &v, nil
	}

	first, err := m.GetOrLoad("k", load)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.GetOrLoad("k", load)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || calls != 1 {
		t.Errorf("expected one load and a shared value, got %d loads", calls)
	}

	failing := func() (*int, error) { return nil, errors.New("boom") }
	if _, err := m.GetOrLoad("bad", failing); err == nil {
		t.Fatal("expected load error")
	}
	if _, ok := m.Get("bad"); ok {
		t.Error("failed loads must not be memoized")
	}

	m.Forget("k")
	if _, ok := m.Get("k"); ok {
		t.Error("forgotten key should miss")
	}
}
