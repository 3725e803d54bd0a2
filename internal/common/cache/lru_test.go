package cache

import (
	"testing"
	"time"
)

func TestLRUCacheSetGetAndExpire(t *testing.T) {
	cache := NewLRUCache(2, 10*time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	cache.Set("a", true, 0)

	if val, ok := cache.Get("a"); !ok || !val {
		t.Fatalf("expected cached value")
	}

	now = now.Add(11 * time.Second)
	if _, ok := cache.Get("a"); ok {
		t.Fatalf("expected value to expire")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected expired entry to be removed, len %d", cache.Len())
	}
}

func TestLRUCacheEviction(t *testing.T) {
	cache := NewLRUCache(2, time.Minute)
	cache.Set("a", true, 0)
	cache.Set("b", true, 0)
	cache.Get("a")
	cache.Set("c", false, 0)

	if _, ok := cache.Get("b"); ok {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Fatalf("expected recent entry to remain")
	}
	if val, ok := cache.Get("c"); !ok || val {
		t.Fatalf("expected newest entry to remain with its false value")
	}
}

func TestLRUCacheOverwriteAndDelete(t *testing.T) {
	cache := NewLRUCache(4, time.Minute)
	cache.Set("user:1", true, 0)
	cache.Set("user:1", false, 0)
	if val, ok := cache.Get("user:1"); !ok || val {
		t.Fatalf("expected overwritten value false")
	}
	cache.Delete("user:1")
	if _, ok := cache.Get("user:1"); ok {
		t.Fatalf("expected deleted entry to be gone")
	}
}
