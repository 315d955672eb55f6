package phrasecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"dooriq/internal/logging"
	"dooriq/internal/textutil"
)

// Entry is a previously computed rating for one normalized phrase.
type Entry struct {
	Key          string    `json:"key"`
	Phrase       string    `json:"phrase"`
	Rating       string    `json:"rating"`
	Alternatives []string  `json:"alternatives,omitempty"`
	CachedAt     time.Time `json:"cached_at"`
}

// Store is the lookup contract the rating workers depend on. Entries are
// advisory: a miss costs an LLM call, never correctness.
type Store interface {
	Get(phrase string) (Entry, bool)
	Put(entry Entry) error
}

// Cache is a file-backed Store keyed by the normalized phrase text.
// Concurrent writers to the same key resolve last-write-wins.
type Cache struct {
	path    string
	ttl     time.Duration
	logger  *slog.Logger
	nowFunc func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Store = (*Cache)(nil)

// New creates a phrase cache persisted at path. An empty path disables the
// cache (every Get misses, every Put is a no-op). A zero ttl means entries
// never go stale. The cache file is created lazily on first Put.
func New(path string, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "phrasecache")

	c := &Cache{
		path:    path,
		ttl:     ttl,
		logger:  logger,
		nowFunc: time.Now,
		entries: make(map[string]Entry),
	}
	if path == "" {
		return c
	}
	if err := c.load(); err != nil {
		logger.Warn("failed to load phrase cache",
			logging.String(logging.FieldEventType, "phrasecache_load_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "cache will start empty"))
	}
	return c
}

// Get returns the cached rating for the phrase if present and fresh.
// Stale entries are treated as misses and left for Sweep to remove.
func (c *Cache) Get(phrase string) (Entry, bool) {
	key := textutil.PhraseKey(phrase)
	if key == "" || c.path == "" {
		return Entry{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[key]
	if !found {
		return Entry{}, false
	}
	if c.stale(entry) {
		return Entry{}, false
	}
	return entry, true
}

// Put stores a rating for the phrase and persists to disk. The key is
// derived from the phrase, so callers never supply it.
func (c *Cache) Put(entry Entry) error {
	entry.Phrase = strings.TrimSpace(entry.Phrase)
	if entry.Phrase == "" {
		return errors.New("phrase cannot be empty")
	}
	if c.path == "" {
		return nil
	}
	entry.Key = textutil.PhraseKey(entry.Phrase)
	if entry.CachedAt.IsZero() {
		entry.CachedAt = c.nowFunc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[entry.Key] = entry

	if err := c.save(); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}

	c.logger.Debug("cached phrase rating",
		logging.String("key", entry.Key),
		logging.String("rating", entry.Rating),
		logging.Int("alternative_count", len(entry.Alternatives)))
	return nil
}

// Sweep removes expired entries and persists the result. It returns the
// number of entries removed. The daemon runs this on a cron schedule.
func (c *Cache) Sweep() (int, error) {
	if c.path == "" || c.ttl <= 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if c.stale(entry) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := c.save(); err != nil {
		return removed, fmt.Errorf("persist cache: %w", err)
	}
	c.logger.Info("swept stale phrase cache entries",
		logging.String(logging.FieldEventType, "phrasecache_sweep"),
		logging.Int("removed", removed),
		logging.Int("remaining", len(c.entries)))
	return removed, nil
}

// Count returns the number of entries currently held, stale or not.
func (c *Cache) Count() int {
	if c.path == "" {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries and persists the empty cache.
func (c *Cache) Clear() error {
	if c.path == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
	if err := c.save(); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}

func (c *Cache) stale(entry Entry) bool {
	if c.ttl <= 0 {
		return false
	}
	return c.nowFunc().Sub(entry.CachedAt) > c.ttl
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}

	c.entries = make(map[string]Entry, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Key) != "" {
			c.entries[entry.Key] = entry
		}
	}

	c.logger.Debug("loaded phrase cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String("path", c.path))
	return nil
}

// save writes the cache to disk atomically via a temp file. Callers hold the
// write lock.
func (c *Cache) save() error {
	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CachedAt.After(entries[j].CachedAt)
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
