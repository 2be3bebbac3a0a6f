package idmap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-gsea/internal/feature"
	"github.com/inodb/vibe-gsea/internal/fetch"
)

// stubRegistry is an in-memory Lookup that counts calls.
type stubRegistry struct {
	mu     sync.Mutex
	ids    map[string]string // upper symbol -> id
	names  map[string]string // id -> symbol
	calls  int
	failOn map[string]error
}

func newStubRegistry(pairs ...string) *stubRegistry {
	s := &stubRegistry{ids: map[string]string{}, names: map[string]string{}, failOn: map[string]error{}}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.ids[strings.ToUpper(pairs[i])] = pairs[i+1]
		s.names[pairs[i+1]] = pairs[i]
	}
	return s
}

func (s *stubRegistry) LookupID(_ context.Context, symbol string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.failOn[symbol]; ok {
		return "", err
	}
	id, ok := s.ids[strings.ToUpper(symbol)]
	if !ok {
		return "", fmt.Errorf("lookup id for %s: %w", symbol, fetch.ErrNotFound)
	}
	return id, nil
}

func (s *stubRegistry) LookupName(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	name, ok := s.names[id]
	if !ok {
		return "", fmt.Errorf("lookup name for %s: %w", id, fetch.ErrNotFound)
	}
	return name, nil
}

func TestCache_TryInsertKeepsBijection(t *testing.T) {
	c := NewCache()

	assert.True(t, c.TryInsert("EGFR", "1956"))
	assert.True(t, c.TryInsert("egfr", "1956"), "identical pair is accepted")
	assert.False(t, c.TryInsert("EGFR", "9999"), "symbol already mapped")
	assert.False(t, c.TryInsert("ERBB1", "1956"), "id already mapped")
	assert.False(t, c.TryInsert("", "1"))
	assert.False(t, c.TryInsert("X", ""))

	assert.Equal(t, 1, c.Len())
	id, ok := c.ID("Egfr")
	assert.True(t, ok)
	assert.Equal(t, "1956", id)
	name, ok := c.Name("1956")
	assert.True(t, ok)
	assert.Equal(t, "EGFR", name)

	_, ok = c.ID("ERBB1")
	assert.False(t, ok)
}

func TestCache_SaveOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idmap.gob")
	c := NewCache()

	require.NoError(t, c.Save(path))
	assert.NoFileExists(t, path, "clean cache is not written")

	c.TryInsert("TP53", "7157")
	c.TryInsert("KRAS", "3845")
	assert.True(t, c.Dirty())
	require.NoError(t, c.Save(path))
	assert.False(t, c.Dirty())

	loaded, err := LoadCache(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.False(t, loaded.Dirty())
	id, ok := loaded.ID("kras")
	assert.True(t, ok)
	assert.Equal(t, "3845", id)
}

func TestResolver_CacheHitSkipsRegistry(t *testing.T) {
	reg := newStubRegistry("EGFR", "1956")
	c := NewCache()
	c.TryInsert("EGFR", "1956")
	r := NewResolver(c, reg)

	id, err := r.NameToID(context.Background(), "EGFR")
	require.NoError(t, err)
	assert.Equal(t, "1956", id)
	assert.Zero(t, reg.calls)
}

func TestResolver_RoundTrip(t *testing.T) {
	for _, sym := range []string{"EGFR", "tp53", "Kras"} {
		t.Run(sym, func(t *testing.T) {
			reg := newStubRegistry("EGFR", "1956", "TP53", "7157", "KRAS", "3845")
			r := NewResolver(NewCache(), reg)

			id, err := r.NameToID(context.Background(), sym)
			require.NoError(t, err)
			name, err := r.IDToName(context.Background(), id)
			require.NoError(t, err)
			assert.True(t, strings.EqualFold(sym, name), "got %q for %q", name, sym)
		})
	}
}

func TestResolver_ConflictStillReturnsValue(t *testing.T) {
	// The registry maps ERBB1 to the ID already cached for EGFR.
	reg := newStubRegistry("ERBB1", "1956")
	c := NewCache()
	c.TryInsert("EGFR", "1956")
	r := NewResolver(c, reg)

	id, err := r.NameToID(context.Background(), "ERBB1")
	require.NoError(t, err)
	assert.Equal(t, "1956", id)

	_, cached := c.ID("ERBB1")
	assert.False(t, cached, "conflicting pair must not be cached")
	name, _ := c.Name("1956")
	assert.Equal(t, "EGFR", name)
}

func TestResolver_ResolveAll(t *testing.T) {
	reg := newStubRegistry("EGFR", "1956", "TP53", "7157", "KRAS", "3845")
	r := NewResolver(NewCache(), reg)

	in := []feature.Feature{
		{Name: "EGFR", FoldChange: 2},
		{RegistryID: "7157", FoldChange: -1},
		{Name: "NOTAGENE"},
		{Name: "KRAS", RegistryID: "3845"},
		{},
		{RegistryID: "0"},
	}
	out := r.ResolveAll(context.Background(), in, 4)

	require.Len(t, out, 3)
	assert.Equal(t, feature.Feature{Name: "EGFR", RegistryID: "1956", FoldChange: 2}, out[0])
	assert.Equal(t, feature.Feature{Name: "TP53", RegistryID: "7157", FoldChange: -1}, out[1])
	assert.Equal(t, "KRAS", out[2].Name)
	// Already-resolved features are not looked up, so KRAS is not cached.
	assert.Equal(t, 2, r.Cache().Len())
}

func TestResolver_CanonicalSymbol(t *testing.T) {
	r := NewResolver(NewCache(), newStubRegistry())
	r.SetAliases(NewAliases([]GeneInfo{
		{GeneID: "1956", Symbol: "EGFR", Synonyms: []string{"ERBB", "ERBB1", "HER1"}},
		{GeneID: "2064", Symbol: "ERBB2", Synonyms: []string{"HER2", "NEU"}},
		{GeneID: "9999", Symbol: "FAKE", Synonyms: []string{"ERBB2"}},
	}))
	r.Cache().TryInsert("TP53", "7157")

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"EGFR", "EGFR", true},
		{"her1", "EGFR", true},
		{"ERBB2", "ERBB2", true}, // official symbol beats synonym of FAKE
		{"tp53", "TP53", true},   // known through the identifier cache
		{"UNKNOWN", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := r.CanonicalSymbol(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, []string{"ERBB", "ERBB1", "HER1"}, r.Aliases("egfr"))
	assert.Nil(t, r.Aliases("TP53"))
}

func TestResolver_NoAliasTable(t *testing.T) {
	r := NewResolver(nil, newStubRegistry())
	_, ok := r.CanonicalSymbol("EGFR")
	assert.False(t, ok)
	assert.Nil(t, r.Aliases("EGFR"))
}

const geneInfoFixture = "#tax_id\tGeneID\tSymbol\tLocusTag\tSynonyms\tdbXrefs\n" +
	"9606\t1956\tEGFR\t-\tERBB|ERBB1|HER1\tMIM:131550\n" +
	"9606\t7157\tTP53\t-\tLFS1|P53\tMIM:191170\n" +
	"10090\t13649\tEgfr\t-\tErbb1\tMGI:95294\n" +
	"9606\t999999\t-\t-\t-\t-\n"

func TestParseGeneInfo(t *testing.T) {
	records, err := parseGeneInfo(strings.NewReader(geneInfoFixture), 9606)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, GeneInfo{TaxID: 9606, GeneID: "1956", Symbol: "EGFR", Synonyms: []string{"ERBB", "ERBB1", "HER1"}}, records[0])
	assert.Equal(t, "TP53", records[1].Symbol)

	all, err := parseGeneInfo(strings.NewReader(geneInfoFixture), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = parseGeneInfo(strings.NewReader(""), 9606)
	assert.Error(t, err)
	_, err = parseGeneInfo(strings.NewReader("#a\tb\n1\t2\n"), 9606)
	assert.ErrorContains(t, err, "missing")
}

func TestResolver_Seed(t *testing.T) {
	records, err := parseGeneInfo(strings.NewReader(geneInfoFixture), 0)
	require.NoError(t, err)

	r := NewResolver(NewCache(), newStubRegistry())
	// Egfr (mouse) collides case-insensitively with human EGFR.
	assert.Equal(t, 2, r.Seed(records))
}

func TestRegistry_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/esearch.fcgi":
			term := req.URL.Query().Get("term")
			if strings.HasPrefix(term, "EGFR[sym]") && strings.Contains(term, "9606[taxid]") {
				fmt.Fprint(w, `<?xml version="1.0"?><eSearchResult><Count>1</Count><IdList><Id>1956</Id></IdList></eSearchResult>`)
				return
			}
			fmt.Fprint(w, `<eSearchResult><Count>0</Count><IdList></IdList></eSearchResult>`)
		case "/efetch.fcgi":
			if req.URL.Query().Get("id") == "1956" {
				fmt.Fprint(w, "\n1. EGFR\nOfficial Symbol: EGFR and Name: epidermal growth factor receptor [Homo sapiens (human)]\n")
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := NewRegistry(fetch.New(fetch.Config{MaxAttempts: 2}), 9606)
	reg.SetBaseURL(srv.URL + "/")

	id, err := reg.LookupID(context.Background(), "EGFR")
	require.NoError(t, err)
	assert.Equal(t, "1956", id)

	_, err = reg.LookupID(context.Background(), "NOTAGENE")
	assert.True(t, fetch.IsNotFound(err))

	name, err := reg.LookupName(context.Background(), "1956")
	require.NoError(t, err)
	assert.Equal(t, "EGFR", name)

	_, err = reg.LookupName(context.Background(), "42")
	assert.True(t, fetch.IsNotFound(err))
}

func TestParseSymbolReport(t *testing.T) {
	assert.Equal(t, "EGFR", parseSymbolReport("\n1. EGFR\nOfficial Symbol: EGFR\n"))
	assert.Equal(t, "TP53", parseSymbolReport("1. TP53\n"))
	assert.Equal(t, "", parseSymbolReport("\n\n"))
}
