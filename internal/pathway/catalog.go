package pathway

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/feature"
)

// Source builds a pathway cache from an upstream service.
type Source interface {
	// Count returns the number of pathways the upstream currently publishes.
	Count(ctx context.Context) (int, error)
	// Build fetches the whole catalog. The returned cache has its
	// InitialSize set.
	Build(ctx context.Context) (*Cache, error)
}

// load returns the cache for src, reading the snapshot at path when present.
//
// Without a snapshot the catalog is built from scratch. With a snapshot and
// refresh set, the upstream size is probed first and the catalog is only
// rebuilt if the size differs from the recorded one. An empty path disables
// persistence.
func load(ctx context.Context, src Source, path string, refresh bool, logger *zap.Logger) (*Cache, error) {
	var c *Cache
	if path != "" {
		cached, err := LoadCache(path)
		switch {
		case err == nil:
			c = cached
			logger.Debug("loaded pathway snapshot",
				zap.String("path", path), zap.Int("pathways", c.Len()))
		case errors.Is(err, os.ErrNotExist):
		default:
			logger.Warn("pathway snapshot unreadable, rebuilding",
				zap.String("path", path), zap.Error(err))
		}
	}

	if c == nil {
		built, err := src.Build(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		persist(built, path, logger)
		return built, nil
	}

	if !refresh {
		return c, nil
	}

	n, err := src.Count(ctx)
	if err != nil {
		logger.Error("pathway count probe failed, keeping snapshot", zap.Error(err))
		return c, nil
	}
	if n == c.InitialSize() {
		logger.Warn("catalog unchanged, skipping refresh",
			zap.String("path", path), zap.Int("pathways", n))
		return c, nil
	}

	logger.Info("catalog changed, rebuilding",
		zap.Int("previous", c.InitialSize()), zap.Int("current", n))
	built, err := src.Build(ctx)
	if err != nil {
		logger.Error("pathway rebuild failed, keeping snapshot", zap.Error(err))
		return c, nil
	}
	persist(built, path, logger)
	return built, nil
}

// persist writes a freshly built cache. A write failure leaves the cache
// usable for this run.
func persist(c *Cache, path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := c.Save(path); err != nil {
		logger.Error("failed to write pathway snapshot", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("wrote pathway snapshot",
		zap.String("path", path), zap.Int("pathways", c.Len()))
}

// cachedCatalog serves queries straight from a loaded cache.
type cachedCatalog struct {
	cache *Cache
	path  string
}

func (c *cachedCatalog) Pathways(_ context.Context, gene string) []Pathway {
	return c.cache.Lookup(gene)
}

func (c *cachedCatalog) InAnyPathway(_ context.Context, gene string) bool {
	return c.cache.Contains(gene)
}

func (c *cachedCatalog) GeneSet(name string) (*feature.GeneSet, bool) {
	p, ok := c.cache.Pathway(name)
	if !ok {
		return nil, false
	}
	return p.GeneSet(), true
}

func (c *cachedCatalog) Names() []string {
	return c.cache.Names()
}

// Save writes the snapshot if the cache changed since it was loaded.
func (c *cachedCatalog) Save() error {
	if c.path == "" || !c.cache.Dirty() {
		return nil
	}
	return c.cache.Save(c.path)
}
