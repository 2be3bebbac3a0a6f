package pathway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-gsea/internal/fetch"
)

func newFetcher() *fetch.Fetcher {
	return fetch.New(fetch.Config{MaxAttempts: 1})
}

const keggList = "path:hsa00010\tGlycolysis / Gluconeogenesis - Homo sapiens (human)\n" +
	"hsa04010\tMAPK signaling pathway - Homo sapiens (human)\n" +
	"hsa09999\tBroken entry - Homo sapiens (human)\n" +
	"not a listing line\n"

const keggGlycolysis = `ENTRY       hsa00010                    Pathway
NAME        Glycolysis / Gluconeogenesis - Homo sapiens (human)
GENE        3101  HK3; hexokinase 3 [KO:K00844] [EC:2.7.1.1]
            3098  HK1; hexokinase 1 [KO:K00844] [EC:2.7.1.1]
            2821  GPI; glucose-6-phosphate isomerase [KO:K01810]
COMPOUND    C00022  Pyruvate
            C00031  D-Glucose
REFERENCE   PMID:12345
///
`

const keggMAPK = `ENTRY       hsa04010                    Pathway
NAME        MAPK signaling pathway - Homo sapiens (human)
GENE        3845  KRAS; KRAS proto-oncogene, GTPase [KO:K07827]
            673  BRAF; B-Raf proto-oncogene [KO:K04365]
///
`

func keggServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list/pathway/hsa":
			fmt.Fprint(w, keggList)
		case "/get/hsa00010":
			fmt.Fprint(w, keggGlycolysis)
		case "/get/hsa04010":
			fmt.Fprint(w, keggMAPK)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseKEGGList(t *testing.T) {
	got := parseKEGGList(keggList)
	require.Len(t, got, 3)
	assert.Equal(t, keggListing{ID: "hsa00010", Name: "Glycolysis / Gluconeogenesis"}, got[0])
	assert.Equal(t, keggListing{ID: "hsa04010", Name: "MAPK signaling pathway"}, got[1])
}

func TestParseKEGGGenes(t *testing.T) {
	assert.Equal(t, []string{"HK3", "HK1", "GPI"}, parseKEGGGenes(keggGlycolysis))
	assert.Nil(t, parseKEGGGenes("ENTRY  x\nCOMPOUND    C00022  Pyruvate\n"))
}

func TestKEGGSource_Build(t *testing.T) {
	srv := keggServer(t)
	src := NewKEGGSource(newFetcher(), "hsa", 2)
	src.SetBaseURL(srv.URL)

	n, err := src.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	c, err := src.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, c.InitialSize())
	assert.Equal(t, 2, c.Len(), "failed entry is skipped")

	hits := c.Lookup("BRAF")
	require.Len(t, hits, 1)
	assert.Equal(t, "hsa04010", hits[0].ID)
	assert.Equal(t, "MAPK signaling pathway", hits[0].Name)
}

func TestRegistry_KEGGCatalogEndToEnd(t *testing.T) {
	srv := keggServer(t)
	dir := t.TempDir()
	r := NewRegistry(newFetcher(), nil, Options{Dir: dir, Organism: "hsa", KEGGURL: srv.URL})

	cat, err := r.Get(context.Background(), KEGG)
	require.NoError(t, err)
	assert.True(t, cat.InAnyPathway(context.Background(), "hk1"))
	assert.False(t, cat.InAnyPathway(context.Background(), "TP53"))

	gs, ok := cat.GeneSet("Glycolysis / Gluconeogenesis")
	require.True(t, ok)
	assert.Equal(t, []string{"GPI", "HK1", "HK3"}, gs.Symbols())
	assert.FileExists(t, filepath.Join(dir, "pathways-kegg.gob"))
	require.NoError(t, r.SaveAll())
}

const wpListing = `<?xml version="1.0" encoding="UTF-8"?>
<ns1:listPathwaysResponse xmlns:ns1="http://www.wso2.org/php/xsd" xmlns:ns2="http://www.wikipathways.org/webservice">
  <ns1:pathways>
    <ns2:id>WP254</ns2:id>
    <ns2:name>Apoptosis</ns2:name>
    <ns2:species>Homo sapiens</ns2:species>
    <ns2:revision>1</ns2:revision>
  </ns1:pathways>
  <ns1:pathways>
    <ns2:id>WP1772</ns2:id>
    <ns2:name>Apoptosis Modulation and Signaling</ns2:name>
    <ns2:species>Homo sapiens</ns2:species>
    <ns2:revision>2</ns2:revision>
  </ns1:pathways>
  <ns1:pathways>
    <ns2:id>WP1</ns2:id>
    <ns2:name>Statin Pathway</ns2:name>
    <ns2:species>Mus musculus</ns2:species>
    <ns2:revision>3</ns2:revision>
  </ns1:pathways>
</ns1:listPathwaysResponse>`

func gpml(nodes ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Pathway xmlns="http://pathvisio.org/GPML/2013a" Name="x">`)
	for _, n := range nodes {
		b.WriteString(n)
	}
	b.WriteString(`</Pathway>`)
	return b.String()
}

func wpPathwayResponse(doc string) string {
	return `<ns1:getPathwayResponse xmlns:ns1="http://www.wso2.org/php/xsd" xmlns:ns2="http://www.wikipathways.org/webservice">` +
		`<ns1:pathway><ns2:id>x</ns2:id><ns2:gpml>` + base64.StdEncoding.EncodeToString([]byte(doc)) +
		`</ns2:gpml></ns1:pathway></ns1:getPathwayResponse>`
}

func TestParseWPListing(t *testing.T) {
	records, err := parseWPListing(strings.NewReader(wpListing))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, wpRecord{ID: "WP254", Name: "Apoptosis", Species: "Homo sapiens"}, records[0])
	assert.Equal(t, "Mus musculus", records[2].Species)

	_, err = parseWPListing(strings.NewReader("<a><b></a>"))
	assert.Error(t, err)
}

func TestLabelSymbol(t *testing.T) {
	tests := []struct{ in, want string }{
		{"CASP3", "CASP3"},
		{"  BAX ", "BAX"},
		{"p-AKT1", "AKT1"},
		{"Y-STAT3", "STAT3"},
		{"MAPK1_iso2", "MAPK1"},
		{"HLA-A", "HLA-A"},
		{"TP53 (tumor protein)", "TP53"},
		{"2.7.1.1", ""},
		{"3.1.3.48 phosphatase", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, labelSymbol(tt.in), tt.in)
	}
}

func TestParseGPML(t *testing.T) {
	doc := gpml(
		`<DataNode TextLabel="CASP3" GraphId="a" Type="GeneProduct"/>`,
		`<DataNode TextLabel="p-BAD" GraphId="b" Type="Protein"/>`,
		`<DataNode TextLabel="ATP" GraphId="c" Type="Metabolite"/>`,
		`<DataNode TextLabel="" GraphId="d" Type="GeneProduct"/>`,
		`<DataNode TextLabel="2.7.11.1" GraphId="e" Type="Protein"/>`,
	)
	genes, err := parseGPML([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"CASP3", "BAD"}, genes)
}

func TestWikiPathwaysSource_Build(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/listPathways":
			assert.Equal(t, "Homo sapiens", r.URL.Query().Get("organism"))
			fmt.Fprint(w, wpListing)
		case "/getPathway":
			switch r.URL.Query().Get("pwId") {
			case "WP254":
				fmt.Fprint(w, wpPathwayResponse(gpml(`<DataNode TextLabel="CASP3" Type="GeneProduct"/>`)))
			case "WP1772":
				fmt.Fprint(w, wpPathwayResponse(gpml(`<DataNode TextLabel="BCL2" Type="Protein"/>`)))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}
	}))
	defer srv.Close()

	src := NewWikiPathwaysSource(newFetcher(), "", 4)
	src.SetBaseURL(srv.URL)

	n, err := src.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "other species are filtered out")

	c, err := src.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, c.InitialSize())
	// "Apoptosis Modulation and Signaling" contains "Apoptosis" and is merged into it.
	assert.Equal(t, []string{"Apoptosis"}, c.Names())
	p, _ := c.Pathway("Apoptosis")
	assert.Equal(t, "WP254", p.ID)
	assert.Equal(t, []string{"CASP3", "BCL2"}, p.Genes)
}

// stubResolver treats the listed names as official symbols.
type stubResolver map[string]string

func (s stubResolver) CanonicalSymbol(name string) (string, bool) {
	v, ok := s[strings.ToUpper(name)]
	return v, ok
}

type reactomeStub struct {
	srv      *httptest.Server
	searches atomic.Int32
	count    atomic.Int32
}

func newReactomeStub(t *testing.T) *reactomeStub {
	t.Helper()
	s := &reactomeStub{}
	s.count.Store(2600)
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/data/schema/Pathway/count":
			assert.Equal(t, "9606", r.URL.Query().Get("species"))
			fmt.Fprintf(w, "%d\n", s.count.Load())
		case r.URL.Path == "/search/query":
			s.searches.Add(1)
			assert.Equal(t, "Pathway", r.URL.Query().Get("types"))
			if r.URL.Query().Get("query") != "EGFR" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprint(w, `{"results":[{"typeName":"Pathway","entries":[{"stId":"R-HSA-177929","name":"Signaling by EGFR"}]}],"found":1}`)
		case r.URL.Path == "/data/query/R-HSA-177929/displayName":
			fmt.Fprint(w, "Signaling by EGFR")
		case r.URL.Path == "/data/participants/R-HSA-177929":
			fmt.Fprint(w, `[
				{"peDbId":1,"displayName":"EGFR [plasma membrane]","schemaClass":"EntityWithAccessionedSequence",
				 "refEntities":[{"dbId":10,"displayName":"UniProt:P00533 EGFR","schemaClass":"ReferenceGeneProduct"}]},
				{"peDbId":2,"displayName":"GRB2:SOS1 [cytosol]","schemaClass":"Complex",
				 "refEntities":[{"dbId":11,"displayName":"UniProt:P62993 GRB2"}]},
				{"peDbId":3,"displayName":"Unknown [cytosol]","schemaClass":"EntityWithAccessionedSequence",
				 "refEntities":[{"dbId":12,"displayName":"UniProt:Q99999 NOTAGENE"}]}
			]`)
		case r.URL.Path == "/data/complex/2/subunits":
			fmt.Fprint(w, `[{"dbId":20,"displayName":"GRB2 [cytosol]","schemaClass":"EntityWithAccessionedSequence"},
				{"dbId":21,"displayName":"p-Y1068-SOS1 [cytosol]","schemaClass":"EntityWithAccessionedSequence"}]`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func TestReactomeCatalog_LazyPopulation(t *testing.T) {
	stub := newReactomeStub(t)
	dir := t.TempDir()
	resolver := stubResolver{"EGFR": "EGFR", "GRB2": "GRB2", "SOS1": "SOS1"}
	r := NewRegistry(newFetcher(), resolver, Options{Dir: dir, ReactomeURL: stub.srv.URL, Workers: 2})

	cat, err := r.Get(context.Background(), Reactome)
	require.NoError(t, err)
	assert.Empty(t, cat.Names(), "nothing is fetched before the first query")

	hits := cat.Pathways(context.Background(), "EGFR")
	require.Len(t, hits, 1)
	assert.Equal(t, "R-HSA-177929", hits[0].ID)
	assert.Equal(t, "Signaling by EGFR", hits[0].Name)
	assert.Equal(t, []string{"EGFR", "GRB2", "SOS1"}, hits[0].Genes)

	// Members of fetched pathways are answered from the cache.
	assert.True(t, cat.InAnyPathway(context.Background(), "EGFR"))
	assert.Equal(t, int32(1), stub.searches.Load())

	// A gene with no hits is searched once.
	assert.False(t, cat.InAnyPathway(context.Background(), "TP53"))
	assert.False(t, cat.InAnyPathway(context.Background(), "TP53"))
	assert.Equal(t, int32(2), stub.searches.Load())

	require.NoError(t, r.SaveAll())
	reloaded, err := LoadCache(filepath.Join(dir, "pathways-reactome.gob"))
	require.NoError(t, err)
	assert.Equal(t, 2600, reloaded.InitialSize())
	assert.True(t, reloaded.Searched("tp53"))
	assert.Equal(t, 1, reloaded.Len())
}

func TestReactomeCatalog_CountChangeDropsEntries(t *testing.T) {
	stub := newReactomeStub(t)
	dir := t.TempDir()
	resolver := stubResolver{"EGFR": "EGFR"}

	r := NewRegistry(newFetcher(), resolver, Options{Dir: dir, ReactomeURL: stub.srv.URL})
	cat, err := r.Get(context.Background(), Reactome)
	require.NoError(t, err)
	require.NotEmpty(t, cat.Pathways(context.Background(), "EGFR"))
	require.NoError(t, r.SaveAll())

	stub.count.Store(2601)
	r = NewRegistry(newFetcher(), resolver, Options{Dir: dir, ReactomeURL: stub.srv.URL, Refresh: true})
	cat, err = r.Get(context.Background(), Reactome)
	require.NoError(t, err)
	assert.Empty(t, cat.Names())
}

func TestReactomeSource_ParticipantSymbol(t *testing.T) {
	src := NewReactomeSource(nil, stubResolver{"EGFR": "EGFR", "ERBB1": "EGFR"}, "", 0, 0)
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"UniProt:P00533 EGFR", "EGFR", true},
		{"ERBB1 [plasma membrane]", "EGFR", true},
		{"p-Y1068-EGFR [plasma membrane]", "EGFR", true},
		{"UniProt:Q99999 NOTAGENE", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := src.participantSymbol(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
