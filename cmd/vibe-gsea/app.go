package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/fetch"
	"github.com/inodb/vibe-gsea/internal/idmap"
	"github.com/inodb/vibe-gsea/internal/pathway"
	"github.com/inodb/vibe-gsea/internal/ppi"
)

// app holds the collaborators shared by the subcommands. Everything is
// created explicitly here and released by close.
type app struct {
	logger   *zap.Logger
	dir      string
	workers  int
	fetcher  *fetch.Fetcher
	metrics  *prometheus.Registry
	resolver *idmap.Resolver
	catalogs *pathway.Registry
	store    *ppi.Store
}

func newApp() (*app, error) {
	logger := newLogger(viper.GetBool("verbose"))
	a := &app{
		logger:  logger,
		dir:     cacheDir(),
		workers: viper.GetInt("parallel.workers"),
		metrics: prometheus.NewRegistry(),
	}

	a.fetcher = fetch.New(fetch.Config{
		MaxAttempts:       viper.GetInt("fetch.max_attempts"),
		RequestsPerSecond: viper.GetFloat64("fetch.requests_per_second"),
		UserAgent:         "vibe-gsea/" + version,
	})
	a.fetcher.SetLogger(logger.Named("fetch"))
	if err := a.fetcher.RegisterMetrics(a.metrics); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	resolver, err := a.newResolver()
	if err != nil {
		return nil, err
	}
	a.resolver = resolver

	a.catalogs = pathway.NewRegistry(a.fetcher, resolver, pathway.Options{
		Dir:      a.dir,
		Refresh:  viper.GetBool("pathway.refresh"),
		Workers:  a.workers,
		Organism: viper.GetString("pathway.organism"),
		Species:  viper.GetString("pathway.species"),
		Taxon:    viper.GetInt("idmap.taxon"),
	})
	a.catalogs.SetLogger(logger.Named("pathway"))
	return a, nil
}

func (a *app) idmapPath() string {
	if a.dir == "" {
		return ""
	}
	return filepath.Join(a.dir, "idmap.gob")
}

// newResolver loads the identifier cache snapshot and, when configured, the
// gene_info alias table. An empty cache is seeded from gene_info.
func (a *app) newResolver() (*idmap.Resolver, error) {
	taxon := viper.GetInt("idmap.taxon")

	cache := idmap.NewCache()
	if path := a.idmapPath(); path != "" {
		c, err := idmap.LoadCache(path)
		switch {
		case err == nil:
			cache = c
			a.logger.Debug("loaded identifier cache", zap.String("path", path), zap.Int("entries", c.Len()))
		case errors.Is(err, os.ErrNotExist):
		default:
			a.logger.Warn("ignoring unreadable identifier cache", zap.String("path", path), zap.Error(err))
		}
	}

	r := idmap.NewResolver(cache, idmap.NewRegistry(a.fetcher, taxon))
	r.SetLogger(a.logger.Named("idmap"))

	if path := viper.GetString("idmap.gene_info"); path != "" {
		records, err := idmap.LoadGeneInfo(path, taxon)
		if err != nil {
			return nil, fmt.Errorf("load gene info: %w", err)
		}
		r.SetAliases(idmap.NewAliases(records))
		if cache.Len() == 0 {
			n := r.Seed(records)
			a.logger.Info("seeded identifier cache from gene info", zap.Int("pairs", n))
		}
	}
	return r, nil
}

func (a *app) ppiPath() string {
	if p := viper.GetString("ppi.cache"); p != "" {
		return p
	}
	if a.dir == "" {
		return ""
	}
	return filepath.Join(a.dir, "ppi.duckdb")
}

// interactions returns a PPI client over the local cache if one has been
// built, or over the live API otherwise.
func (a *app) interactions() (*ppi.Client, error) {
	if a.store == nil {
		if path := a.ppiPath(); path != "" {
			if _, err := os.Stat(path); err == nil {
				store, err := ppi.Open(path)
				if err != nil {
					return nil, fmt.Errorf("open interaction cache: %w", err)
				}
				a.store = store
			}
		}
	}

	c := ppi.NewClient(a.store, a.fetcher, ppi.Options{
		MinScore:    viper.GetFloat64("ppi.min_score"),
		Taxon:       viper.GetInt("ppi.taxon"),
		MaxAttempts: viper.GetInt("fetch.max_attempts"),
	})
	c.SetAliases(a.resolver)
	c.SetLogger(a.logger.Named("ppi"))
	if !c.Cached() {
		a.logger.Debug("no interaction cache, using live STRING API")
	}
	return c, nil
}

// close persists changed caches, writes metrics and releases resources.
func (a *app) close() error {
	var errs []error
	if path := a.idmapPath(); path != "" {
		if err := a.resolver.Cache().Save(path); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.catalogs.SaveAll(); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close interaction cache: %w", err))
		}
	}
	if path := viper.GetString("metrics_file"); path != "" {
		if err := prometheus.WriteToTextfile(path, a.metrics); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	a.logger.Sync()
	return errors.Join(errs...)
}

// withApp runs fn with a fresh app and closes it afterwards.
func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.close(); err != nil {
		a.logger.Error("shutdown", zap.Error(err))
	}
	return runErr
}
