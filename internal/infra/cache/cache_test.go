package cache_test

import (
	"testing"
	"time"

	"github.com/classpilot/aihub-go/internal/infra/cache"
)

func TestSetAndGet(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Set("k", "v")

	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("expected (v, true), got (%q, %v)", got, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	c := cache.New[int](time.Minute)

	got, ok := c.Get("absent")
	if ok || got != 0 {
		t.Fatalf("expected zero value and false, got (%d, %v)", got, ok)
	}
}

func TestExpiredEntryIsNotReturned(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.SetWithTTL("k", "v", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected the entry to be expired")
	}
}

func TestSetWithTTLOverridesDefault(t *testing.T) {
	c := cache.New[string](10 * time.Millisecond)
	c.SetWithTTL("k", "v", time.Minute)

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("the explicit TTL should outlive the default")
	}
}

func TestOverwriteRefreshesValue(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Set("k", "old")
	c.Set("k", "new")

	if got, _ := c.Get("k"); got != "new" {
		t.Fatalf("expected new, got %q", got)
	}
	if c.Len() != 1 {
		t.Errorf("overwrite must not grow the cache, got %d entries", c.Len())
	}
}

func TestDelete(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Set("k", "v")
	c.Delete("k")

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected the entry to be gone")
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestPointerValues(t *testing.T) {
	type answer struct{ Content string }
	c := cache.New[*answer](time.Minute)
	c.Set("k", &answer{Content: "cached"})

	got, ok := c.Get("k")
	if !ok || got == nil || got.Content != "cached" {
		t.Fatalf("expected cached pointer value, got (%+v, %v)", got, ok)
	}
}
