package phrasecache

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "phrase_cache.json"), ttl, nil)
}

func TestCachePutAndGet(t *testing.T) {
	cache := newTestCache(t, 0)

	entry := Entry{
		Phrase:       "We treat the whole perimeter of the home.",
		Rating:       "good",
		Alternatives: []string{"We protect the entire perimeter, inside and out."},
	}
	if err := cache.Put(entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	found, ok := cache.Get("We treat the whole perimeter of the home.")
	if !ok {
		t.Fatal("Get failed to find stored entry")
	}
	if found.Rating != entry.Rating {
		t.Errorf("Rating mismatch: got %q, want %q", found.Rating, entry.Rating)
	}
	if len(found.Alternatives) != 1 {
		t.Errorf("Alternatives count: got %d, want 1", len(found.Alternatives))
	}
}

func TestCacheGetNormalizesPhrase(t *testing.T) {
	cache := newTestCache(t, 0)

	if err := cache.Put(Entry{Phrase: "How does that sound?", Rating: "excellent"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Case and whitespace differences resolve to the same key.
	if _, ok := cache.Get("  HOW   does that Sound? "); !ok {
		t.Error("Get should match regardless of case and whitespace")
	}
}

func TestCacheGetNotFound(t *testing.T) {
	cache := newTestCache(t, 0)
	if _, ok := cache.Get("never stored"); ok {
		t.Error("Get should return false for a missing phrase")
	}
}

func TestCachePutEmptyPhrase(t *testing.T) {
	cache := newTestCache(t, 0)
	if err := cache.Put(Entry{Phrase: "   "}); err == nil {
		t.Error("Put should reject an empty phrase")
	}
}

func TestCacheDisabledWithoutPath(t *testing.T) {
	cache := New("", 0, nil)
	if err := cache.Put(Entry{Phrase: "anything", Rating: "good"}); err != nil {
		t.Fatalf("Put on disabled cache: %v", err)
	}
	if _, ok := cache.Get("anything"); ok {
		t.Error("disabled cache should never hit")
	}
	if cache.Count() != 0 {
		t.Error("disabled cache should report zero entries")
	}
}

func TestCachePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phrase_cache.json")

	first := New(path, 0, nil)
	if err := first.Put(Entry{Phrase: "Do you rent or own?", Rating: "excellent"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	second := New(path, 0, nil)
	if _, ok := second.Get("Do you rent or own?"); !ok {
		t.Error("reloaded cache should contain persisted entry")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := newTestCache(t, time.Hour)

	now := time.Now()
	cache.nowFunc = func() time.Time { return now }

	if err := cache.Put(Entry{Phrase: "fresh phrase", Rating: "good"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := cache.Get("fresh phrase"); !ok {
		t.Fatal("fresh entry should hit")
	}

	cache.nowFunc = func() time.Time { return now.Add(2 * time.Hour) }
	if _, ok := cache.Get("fresh phrase"); ok {
		t.Error("expired entry should miss")
	}
}

func TestCacheSweepRemovesExpired(t *testing.T) {
	cache := newTestCache(t, time.Hour)

	now := time.Now()
	cache.nowFunc = func() time.Time { return now }

	if err := cache.Put(Entry{Phrase: "old phrase", Rating: "poor"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	cache.nowFunc = func() time.Time { return now.Add(3 * time.Hour) }
	if err := cache.Put(Entry{Phrase: "new phrase", Rating: "good"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	removed, err := cache.Sweep()
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if cache.Count() != 1 {
		t.Errorf("remaining = %d, want 1", cache.Count())
	}
	if _, ok := cache.Get("new phrase"); !ok {
		t.Error("fresh entry should survive sweep")
	}
}
