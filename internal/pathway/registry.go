package pathway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Options configures the built-in catalogs.
type Options struct {
	Dir      string // snapshot directory; empty disables snapshots
	Refresh  bool   // probe upstream and rebuild changed catalogs
	Workers  int
	Organism string // KEGG organism code
	Species  string // species name used by WikiPathways and Reactome
	Taxon    int    // NCBI taxonomy ID used by Reactome

	KEGGURL         string
	WikiPathwaysURL string
	ReactomeURL     string
}

// SnapshotPath returns the snapshot file for a backend, or "" if snapshots
// are disabled.
func (o Options) SnapshotPath(b Backend) string {
	if o.Dir == "" {
		return ""
	}
	return filepath.Join(o.Dir, fmt.Sprintf("pathways-%s.gob", b))
}

// Env is passed to catalog constructors.
type Env struct {
	Fetcher  Fetcher
	Resolver SymbolResolver
	Options  Options
	Logger   *zap.Logger
}

// Constructor creates the catalog for one backend.
type Constructor func(ctx context.Context, env Env) (Catalog, error)

// Registry creates catalogs by backend and keeps one instance per backend.
type Registry struct {
	mu        sync.Mutex
	env       Env
	ctors     map[Backend]Constructor
	instances map[Backend]Catalog
}

// NewRegistry creates a registry with the KEGG, WikiPathways and Reactome
// constructors installed.
func NewRegistry(f Fetcher, resolver SymbolResolver, opts Options) *Registry {
	return &Registry{
		env: Env{Fetcher: f, Resolver: resolver, Options: opts, Logger: zap.NewNop()},
		ctors: map[Backend]Constructor{
			KEGG:         newKEGGCatalog,
			WikiPathways: newWikiPathwaysCatalog,
			Reactome:     newReactomeCatalog,
		},
		instances: make(map[Backend]Catalog),
	}
}

// SetLogger sets the logger passed to constructors.
func (r *Registry) SetLogger(l *zap.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env.Logger = l
}

// Register installs or replaces the constructor for a backend.
func (r *Registry) Register(b Backend, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[b] = ctor
	delete(r.instances, b)
}

// Get returns the catalog for b, constructing it on first use.
// Construction holds the registry lock, so a catalog is never read while
// another goroutine is building it. Failed constructions are not cached.
func (r *Registry) Get(ctx context.Context, b Backend) (Catalog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.instances[b]; ok {
		return c, nil
	}
	ctor, ok := r.ctors[b]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, b)
	}
	c, err := ctor(ctx, r.env)
	if err != nil {
		return nil, fmt.Errorf("load %s catalog: %w", b, err)
	}
	r.instances[b] = c
	return c, nil
}

// SaveAll writes the snapshots of every constructed catalog that changed.
func (r *Registry) SaveAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for b, c := range r.instances {
		s, ok := c.(interface{ Save() error })
		if !ok {
			continue
		}
		if err := s.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save %s catalog: %w", b, err))
		}
	}
	return errors.Join(errs...)
}

func newKEGGCatalog(ctx context.Context, env Env) (Catalog, error) {
	src := NewKEGGSource(env.Fetcher, env.Options.Organism, env.Options.Workers)
	if env.Options.KEGGURL != "" {
		src.SetBaseURL(env.Options.KEGGURL)
	}
	src.SetLogger(env.Logger)
	return loadCatalog(ctx, src, KEGG, env)
}

func newWikiPathwaysCatalog(ctx context.Context, env Env) (Catalog, error) {
	src := NewWikiPathwaysSource(env.Fetcher, env.Options.Species, env.Options.Workers)
	if env.Options.WikiPathwaysURL != "" {
		src.SetBaseURL(env.Options.WikiPathwaysURL)
	}
	src.SetLogger(env.Logger)
	return loadCatalog(ctx, src, WikiPathways, env)
}

func newReactomeCatalog(ctx context.Context, env Env) (Catalog, error) {
	src := NewReactomeSource(env.Fetcher, env.Resolver, env.Options.Species, env.Options.Taxon, env.Options.Workers)
	if env.Options.ReactomeURL != "" {
		src.SetBaseURL(env.Options.ReactomeURL)
	}
	src.SetLogger(env.Logger)

	path := env.Options.SnapshotPath(Reactome)
	c, err := load(ctx, src, path, env.Options.Refresh, env.Logger.With(zap.String("backend", string(Reactome))))
	if err != nil {
		return nil, err
	}
	return &reactomeCatalog{cachedCatalog: cachedCatalog{cache: c, path: path}, src: src}, nil
}

func loadCatalog(ctx context.Context, src Source, b Backend, env Env) (Catalog, error) {
	path := env.Options.SnapshotPath(b)
	c, err := load(ctx, src, path, env.Options.Refresh, env.Logger.With(zap.String("backend", string(b))))
	if err != nil {
		return nil, err
	}
	return &cachedCatalog{cache: c, path: path}, nil
}
