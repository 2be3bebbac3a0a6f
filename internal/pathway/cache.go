package pathway

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/inodb/vibe-gsea/internal/snapshot"
)

// Entry is the stored form of one pathway.
type Entry struct {
	ID    string
	Genes []string
}

// Cache maps pathway names to member genes. InitialSize records the number
// of pathways the upstream published when the cache was last built.
//
// Gene queries go through an inverted index of gene -> pathway ordinals that
// is rebuilt on demand after any mutation and never persisted.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	initialSize int
	searched    map[string]bool
	dirty       bool

	names []string                   // sorted pathway names; index ordinals refer to these
	index map[string]*roaring.Bitmap // upper(gene) -> ordinals
	stale bool
}

// NewCache creates an empty pathway cache.
func NewCache() *Cache {
	return &Cache{
		entries:  make(map[string]*Entry),
		searched: make(map[string]bool),
		stale:    true,
	}
}

func geneKey(gene string) string {
	return strings.ToUpper(strings.TrimSpace(gene))
}

// Put adds a pathway, merging its genes into an existing entry of the same name.
func (c *Cache) Put(id, name string, genes []string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		e = &Entry{ID: id}
		c.entries[name] = e
	} else if e.ID == "" {
		e.ID = id
	}

	seen := make(map[string]bool, len(e.Genes)+len(genes))
	for _, g := range e.Genes {
		seen[g] = true
	}
	for _, g := range genes {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		e.Genes = append(e.Genes, g)
	}
	c.dirty = true
	c.stale = true
}

// HasID reports whether a pathway with the given upstream ID is cached.
func (c *Cache) HasID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Pathway returns the cached pathway named name.
func (c *Cache) Pathway(name string) (Pathway, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		return Pathway{}, false
	}
	return toPathway(name, e), true
}

func toPathway(name string, e *Entry) Pathway {
	return Pathway{ID: e.ID, Name: name, Genes: append([]string(nil), e.Genes...)}
}

// Lookup returns all pathways containing gene, ordered by name.
// Gene matching is case-insensitive.
func (c *Cache) Lookup(gene string) []Pathway {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reindex()

	bm, ok := c.index[geneKey(gene)]
	if !ok {
		return nil
	}
	out := make([]Pathway, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		name := c.names[it.Next()]
		out = append(out, toPathway(name, c.entries[name]))
	}
	return out
}

// Contains reports whether gene belongs to any cached pathway.
func (c *Cache) Contains(gene string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reindex()
	bm, ok := c.index[geneKey(gene)]
	return ok && !bm.IsEmpty()
}

// reindex rebuilds the inverted index if the cache changed. Caller holds mu.
func (c *Cache) reindex() {
	if !c.stale {
		return
	}
	c.names = make([]string, 0, len(c.entries))
	for name := range c.entries {
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)

	c.index = make(map[string]*roaring.Bitmap)
	for i, name := range c.names {
		for _, g := range c.entries[name].Genes {
			key := geneKey(g)
			bm, ok := c.index[key]
			if !ok {
				bm = roaring.New()
				c.index[key] = bm
			}
			bm.Add(uint32(i))
		}
	}
	c.stale = false
}

// Names returns all pathway names, sorted.
func (c *Cache) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reindex()
	return append([]string(nil), c.names...)
}

// Len returns the number of cached pathways.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// InitialSize returns the upstream catalog size recorded at build time.
func (c *Cache) InitialSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialSize
}

// SetInitialSize records the upstream catalog size.
func (c *Cache) SetInitialSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialSize != n {
		c.initialSize = n
		c.dirty = true
	}
}

// MarkSearched records that gene has been queried upstream.
func (c *Cache) MarkSearched(gene string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searched[geneKey(gene)] = true
	c.dirty = true
}

// Searched reports whether gene has been queried upstream.
func (c *Cache) Searched(gene string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searched[geneKey(gene)]
}

// Dirty returns true if the cache changed since it was loaded or saved.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

type cacheSnapshot struct {
	Pathways    map[string]Entry
	InitialSize int
	Searched    []string
}

// LoadCache reads a pathway cache snapshot.
func LoadCache(path string) (*Cache, error) {
	var snap cacheSnapshot
	if err := snapshot.Load(path, &snap); err != nil {
		return nil, err
	}

	c := NewCache()
	for name, e := range snap.Pathways {
		c.entries[name] = &e
	}
	for _, g := range snap.Searched {
		c.searched[g] = true
	}
	c.initialSize = snap.InitialSize
	return c, nil
}

// Save writes the cache snapshot to path.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := cacheSnapshot{
		Pathways:    make(map[string]Entry, len(c.entries)),
		InitialSize: c.initialSize,
	}
	for name, e := range c.entries {
		snap.Pathways[name] = *e
	}
	for g := range c.searched {
		snap.Searched = append(snap.Searched, g)
	}
	sort.Strings(snap.Searched)

	if err := snapshot.Save(path, snap, map[string]string{
		"pathways":     strconv.Itoa(len(c.entries)),
		"initial_size": strconv.Itoa(c.initialSize),
	}); err != nil {
		return fmt.Errorf("save pathway cache: %w", err)
	}
	c.dirty = false
	return nil
}
