package pathway

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/inodb/vibe-gsea/internal/snapshot"
)

func TestParseBackend(t *testing.T) {
	for _, b := range Backends {
		got, err := ParseBackend(string(b))
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
	got, err := ParseBackend(" KEGG ")
	require.NoError(t, err)
	assert.Equal(t, KEGG, got)

	_, err = ParseBackend("biocarta")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestCache_PutMergesAndIndexes(t *testing.T) {
	c := NewCache()
	c.Put("hsa04010", "MAPK signaling", []string{"KRAS", "BRAF"})
	c.Put("hsa04012", "ErbB signaling", []string{"EGFR", "KRAS"})
	c.Put("", "MAPK signaling", []string{"BRAF", "MAP2K1", ""})
	c.Put("x", "", []string{"IGNORED"})

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"ErbB signaling", "MAPK signaling"}, c.Names())

	p, ok := c.Pathway("MAPK signaling")
	require.True(t, ok)
	assert.Equal(t, "hsa04010", p.ID)
	assert.Equal(t, []string{"KRAS", "BRAF", "MAP2K1"}, p.Genes)

	hits := c.Lookup("kras")
	require.Len(t, hits, 2)
	assert.Equal(t, "ErbB signaling", hits[0].Name)
	assert.Equal(t, "MAPK signaling", hits[1].Name)

	assert.True(t, c.Contains("EGFR"))
	assert.False(t, c.Contains("TP53"))
	assert.Nil(t, c.Lookup("TP53"))
	assert.False(t, c.Contains("IGNORED"))

	// A later insert must be visible through the index.
	c.Put("hsa04115", "p53 signaling", []string{"TP53"})
	assert.True(t, c.Contains("TP53"))
	assert.True(t, c.HasID("hsa04115"))
	assert.False(t, c.HasID("hsa99999"))
}

func TestCache_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways-kegg.gob")

	c := NewCache()
	c.Put("WP1", "Apoptosis", []string{"CASP3", "BAX"})
	c.SetInitialSize(7)
	c.MarkSearched("casp3")
	require.True(t, c.Dirty())
	require.NoError(t, c.Save(path))
	assert.False(t, c.Dirty())

	meta, err := snapshot.ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, "1", meta["pathways"])
	assert.Equal(t, "7", meta["initial_size"])

	loaded, err := LoadCache(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.InitialSize())
	assert.True(t, loaded.Searched("CASP3"))
	assert.False(t, loaded.Dirty())
	require.Len(t, loaded.Lookup("bax"), 1)
	assert.Equal(t, "WP1", loaded.Lookup("bax")[0].ID)
}

func reconcilerWith(names ...string) *nameReconciler {
	r := &nameReconciler{}
	for _, n := range names {
		r.reconcile(n)
	}
	return r
}

func TestReconcileName(t *testing.T) {
	r := reconcilerWith("TGF-beta receptor signaling", "Apoptosis", "Glycolysis-Gluconeogenesis")
	require.Equal(t, []string{"Apoptosis", "Glycolysis-Gluconeogenesis", "TGF-beta receptor signaling"}, r.keys)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exact", "Apoptosis", "Apoptosis"},
		{"existing key inside longer name", "Apoptosis Modulation and Signaling", "Apoptosis"},
		{"new name inside existing key", "TGF-beta receptor", "TGF-beta receptor signaling"},
		{"slash normalized", "Glycolysis/Gluconeogenesis", "Glycolysis-Gluconeogenesis"},
		{"unrelated", "Wnt signaling", "Wnt signaling"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.match(tt.in))
		})
	}
}

func TestReconcileName_RecordsNewKeys(t *testing.T) {
	var r nameReconciler
	assert.Equal(t, "Wnt signaling", r.reconcile("Wnt signaling"))
	assert.Equal(t, "Wnt signaling", r.reconcile("Wnt"))
	assert.Equal(t, "Apoptosis", r.reconcile("Apoptosis"))
	assert.Equal(t, []string{"Apoptosis", "Wnt signaling"}, r.keys)
}

// Substring matching merges pathways that only share a name fragment.
// This is a known approximation of the reconciliation rule.
func TestReconcileName_KnownApproximation(t *testing.T) {
	r := reconcilerWith("Signaling")
	assert.Equal(t, "Signaling", r.reconcile("Insulin Signaling"))
}

func TestReconcileName_NoDuplicateForSubstring(t *testing.T) {
	var r nameReconciler
	c := NewCache()
	c.Put("WP1", r.reconcile("Focal Adhesion-PI3K-Akt-mTOR-signaling pathway"), []string{"AKT1"})
	c.Put("WP2", r.reconcile("Focal Adhesion"), []string{"PTK2"})

	assert.Equal(t, 1, c.Len())
	p, _ := c.Pathway("Focal Adhesion-PI3K-Akt-mTOR-signaling pathway")
	assert.ElementsMatch(t, []string{"AKT1", "PTK2"}, p.Genes)
}

// fakeSource counts Count and Build calls.
type fakeSource struct {
	count    int
	genes    map[string][]string
	buildErr error
	countErr error
	builds   atomic.Int32
	counts   atomic.Int32
}

func (s *fakeSource) Count(context.Context) (int, error) {
	s.counts.Add(1)
	return s.count, s.countErr
}

func (s *fakeSource) Build(context.Context) (*Cache, error) {
	s.builds.Add(1)
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	c := NewCache()
	for name, genes := range s.genes {
		c.Put("", name, genes)
	}
	c.SetInitialSize(s.count)
	return c, nil
}

func TestLoad_BuildsAndSavesWithoutSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways-kegg.gob")
	src := &fakeSource{count: 1, genes: map[string][]string{"P1": {"A"}}}

	c, err := load(context.Background(), src, path, false, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.builds.Load())
	assert.True(t, c.Contains("A"))
	assert.FileExists(t, path)
	assert.False(t, c.Dirty())

	// Second load reads the snapshot without touching the source.
	c, err = load(context.Background(), src, path, false, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.builds.Load())
	assert.Zero(t, src.counts.Load())
	assert.True(t, c.Contains("A"))
}

func TestLoad_RefreshSkippedWhenCountUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways-kegg.gob")
	src := &fakeSource{count: 1, genes: map[string][]string{"P1": {"A"}}}
	_, err := load(context.Background(), src, path, false, zap.NewNop())
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	_, err = load(context.Background(), src, path, true, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.counts.Load())
	assert.Equal(t, int32(1), src.builds.Load(), "no rebuild when size is unchanged")
	assert.Equal(t, 1, logs.FilterMessage("catalog unchanged, skipping refresh").Len())
}

func TestLoad_RefreshRebuildsWhenCountChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways-kegg.gob")
	src := &fakeSource{count: 1, genes: map[string][]string{"P1": {"A"}}}
	_, err := load(context.Background(), src, path, false, zap.NewNop())
	require.NoError(t, err)

	src.count = 2
	src.genes = map[string][]string{"P1": {"A"}, "P2": {"B"}}
	c, err := load(context.Background(), src, path, true, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.builds.Load())
	assert.Equal(t, 2, c.InitialSize())
	assert.True(t, c.Contains("B"))

	reloaded, err := LoadCache(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.InitialSize())
}

func TestLoad_FailuresKeepSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathways-kegg.gob")
	src := &fakeSource{count: 1, genes: map[string][]string{"P1": {"A"}}}
	_, err := load(context.Background(), src, path, false, zap.NewNop())
	require.NoError(t, err)

	src.countErr = errors.New("probe down")
	c, err := load(context.Background(), src, path, true, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, c.Contains("A"))

	src.countErr = nil
	src.count = 5
	src.buildErr = errors.New("upstream down")
	c, err = load(context.Background(), src, path, true, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, c.Contains("A"))
	assert.Equal(t, 1, c.InitialSize())
}

func TestLoad_UnavailableWithoutSnapshot(t *testing.T) {
	src := &fakeSource{buildErr: errors.New("upstream down")}
	_, err := load(context.Background(), src, filepath.Join(t.TempDir(), "x.gob"), false, zap.NewNop())
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
}

type stubCatalog struct{ cachedCatalog }

func TestRegistry_MemoizesPerBackend(t *testing.T) {
	r := NewRegistry(nil, nil, Options{})
	var built atomic.Int32
	r.Register(KEGG, func(context.Context, Env) (Catalog, error) {
		built.Add(1)
		return &stubCatalog{cachedCatalog{cache: NewCache()}}, nil
	})

	a, err := r.Get(context.Background(), KEGG)
	require.NoError(t, err)
	b, err := r.Get(context.Background(), KEGG)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), built.Load())

	_, err = r.Get(context.Background(), Backend("biocarta"))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRegistry_FailedConstructionNotCached(t *testing.T) {
	r := NewRegistry(nil, nil, Options{})
	var calls atomic.Int32
	r.Register(WikiPathways, func(context.Context, Env) (Catalog, error) {
		if calls.Add(1) == 1 {
			return nil, ErrCatalogUnavailable
		}
		return &cachedCatalog{cache: NewCache()}, nil
	})

	_, err := r.Get(context.Background(), WikiPathways)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	_, err = r.Get(context.Background(), WikiPathways)
	assert.NoError(t, err)
}

func TestOptions_SnapshotPath(t *testing.T) {
	assert.Equal(t, "", Options{}.SnapshotPath(KEGG))
	assert.Equal(t, filepath.Join("/cache", "pathways-reactome.gob"), Options{Dir: "/cache"}.SnapshotPath(Reactome))
}
