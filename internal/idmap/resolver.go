package idmap

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/feature"
	"github.com/inodb/vibe-gsea/internal/fetch"
	"github.com/inodb/vibe-gsea/internal/parallel"
)

// Lookup resolves identifiers against a remote registry.
type Lookup interface {
	LookupID(ctx context.Context, symbol string) (string, error)
	LookupName(ctx context.Context, id string) (string, error)
}

// Resolver answers symbol <-> ID queries from the cache, falling back to
// the registry on a miss.
type Resolver struct {
	cache    *Cache
	registry Lookup
	aliases  *Aliases
	logger   *zap.Logger
}

// NewResolver creates a resolver over the given cache and registry.
func NewResolver(c *Cache, registry Lookup) *Resolver {
	if c == nil {
		c = NewCache()
	}
	return &Resolver{
		cache:    c,
		registry: registry,
		logger:   zap.NewNop(),
	}
}

// SetLogger sets the logger for resolution failures.
func (r *Resolver) SetLogger(l *zap.Logger) {
	r.logger = l
}

// SetAliases installs the alias table used by CanonicalSymbol and Aliases.
func (r *Resolver) SetAliases(a *Aliases) {
	r.aliases = a
}

// Cache returns the underlying identifier cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Seed inserts registry pairs from gene_info records into the cache.
// It returns the number of pairs accepted.
func (r *Resolver) Seed(records []GeneInfo) int {
	n := 0
	for _, rec := range records {
		if r.cache.TryInsert(rec.Symbol, rec.GeneID) {
			n++
		}
	}
	return n
}

// NameToID returns the registry ID for a gene symbol.
func (r *Resolver) NameToID(ctx context.Context, name string) (string, error) {
	if id, ok := r.cache.ID(name); ok {
		return id, nil
	}

	id, err := r.registry.LookupID(ctx, name)
	if err != nil {
		return "", err
	}
	if !r.cache.TryInsert(name, id) {
		r.logger.Debug("identifier pair conflicts with cache, not stored",
			zap.String("symbol", name), zap.String("id", id))
	}
	return id, nil
}

// IDToName returns the gene symbol for a registry ID.
func (r *Resolver) IDToName(ctx context.Context, id string) (string, error) {
	if name, ok := r.cache.Name(id); ok {
		return name, nil
	}

	name, err := r.registry.LookupName(ctx, id)
	if err != nil {
		return "", err
	}
	if !r.cache.TryInsert(name, id) {
		r.logger.Debug("identifier pair conflicts with cache, not stored",
			zap.String("symbol", name), zap.String("id", id))
	}
	return name, nil
}

// CanonicalSymbol maps a display name to an official symbol, trying
// official symbols first and synonyms second. Names already present in
// the identifier cache are accepted as they are.
func (r *Resolver) CanonicalSymbol(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if s, ok := r.aliases.Canonical(name); ok {
		return s, true
	}
	if id, ok := r.cache.ID(name); ok {
		if s, ok := r.cache.Name(id); ok {
			return s, true
		}
	}
	return "", false
}

// Aliases returns the synonyms known for an official symbol.
func (r *Resolver) Aliases(symbol string) []string {
	return r.aliases.Synonyms(symbol)
}

// ResolveAll fills in the missing symbol or registry ID of each feature
// using up to workers concurrent lookups. Features that cannot be resolved
// are dropped; the order of the remaining features is preserved.
func (r *Resolver) ResolveAll(ctx context.Context, features []feature.Feature, workers int) []feature.Feature {
	var needID, needName []string
	for i := range features {
		f := &features[i]
		switch {
		case f.Resolved():
		case f.Name != "":
			needID = append(needID, f.Name)
		case f.RegistryID != "":
			needName = append(needName, f.RegistryID)
		}
	}

	ids := parallel.Map(ctx, needID, workers, func(ctx context.Context, name string) (string, bool) {
		id, err := r.NameToID(ctx, name)
		if err != nil {
			r.logFailure("symbol", name, err)
			return "", false
		}
		return id, true
	})
	names := parallel.Map(ctx, needName, workers, func(ctx context.Context, id string) (string, bool) {
		name, err := r.IDToName(ctx, id)
		if err != nil {
			r.logFailure("id", id, err)
			return "", false
		}
		return name, true
	})

	out := make([]feature.Feature, 0, len(features))
	for _, f := range features {
		switch {
		case f.Resolved():
		case f.Name != "":
			id, ok := ids[f.Name]
			if !ok {
				continue
			}
			f.RegistryID = id
		case f.RegistryID != "":
			name, ok := names[f.RegistryID]
			if !ok {
				continue
			}
			f.Name = name
		default:
			continue
		}
		out = append(out, f)
	}
	return out
}

func (r *Resolver) logFailure(kind, value string, err error) {
	if fetch.IsNotFound(err) {
		r.logger.Warn("identifier not found in registry", zap.String(kind, value))
		return
	}
	r.logger.Error("identifier resolution failed", zap.String(kind, value), zap.Error(err))
}
