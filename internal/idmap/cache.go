// Package idmap resolves gene symbols to registry identifiers and back,
// caching every resolved pair in a bijective map.
package idmap

import (
	"fmt"
	"strings"
	"sync"

	"github.com/inodb/vibe-gsea/internal/snapshot"
)

// Cache is a bijective symbol <-> registry ID map.
// Symbol lookups are case-insensitive; the casing of the first insert is kept.
type Cache struct {
	mu     sync.RWMutex
	byName map[string]string // upper-cased symbol -> ID
	byID   map[string]string // ID -> symbol
	dirty  bool
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		byName: make(map[string]string),
		byID:   make(map[string]string),
	}
}

func nameKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ID returns the registry ID cached for symbol.
func (c *Cache) ID(symbol string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[nameKey(symbol)]
	return id, ok
}

// Name returns the symbol cached for a registry ID.
func (c *Cache) Name(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byID[strings.TrimSpace(id)]
	return name, ok
}

// TryInsert stores the pair unless either side is already mapped to
// something else. Re-inserting an existing pair succeeds without change.
func (c *Cache) TryInsert(symbol, id string) bool {
	symbol = strings.TrimSpace(symbol)
	id = strings.TrimSpace(id)
	if symbol == "" || id == "" {
		return false
	}
	key := nameKey(symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byName[key]; ok {
		return existing == id
	}
	if _, ok := c.byID[id]; ok {
		return false
	}
	c.byName[key] = id
	c.byID[id] = symbol
	c.dirty = true
	return true
}

// Len returns the number of cached pairs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Dirty returns true if pairs were added since the cache was loaded or saved.
func (c *Cache) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// cacheSnapshot is the on-disk form; the reverse map is rebuilt on load.
type cacheSnapshot struct {
	Names map[string]string // ID -> symbol
}

// LoadCache reads a cache snapshot from path.
func LoadCache(path string) (*Cache, error) {
	var snap cacheSnapshot
	if err := snapshot.Load(path, &snap); err != nil {
		return nil, err
	}

	c := NewCache()
	for id, name := range snap.Names {
		c.TryInsert(name, id)
	}
	c.dirty = false
	return c, nil
}

// Save writes the cache to path if it changed since it was loaded.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	names := make(map[string]string, len(c.byID))
	for id, name := range c.byID {
		names[id] = name
	}
	if err := snapshot.Save(path, cacheSnapshot{Names: names}, map[string]string{
		"entries": fmt.Sprint(len(names)),
	}); err != nil {
		return fmt.Errorf("save identifier cache: %w", err)
	}
	c.dirty = false
	return nil
}
