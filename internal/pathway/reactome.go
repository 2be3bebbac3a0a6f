package pathway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/fetch"
	"github.com/inodb/vibe-gsea/internal/parallel"
)

// DefaultReactomeURL is the Reactome ContentService endpoint.
const DefaultReactomeURL = "https://reactome.org/ContentService"

// ReactomeSource queries the Reactome ContentService.
//
// Reactome has no cheap whole-catalog download, so Build only records the
// upstream size; pathways are fetched per gene when first queried.
type ReactomeSource struct {
	fetcher  Fetcher
	resolver SymbolResolver
	baseURL  string
	species  string
	taxon    int
	workers  int
	logger   *zap.Logger
}

// NewReactomeSource creates a Reactome source. Participant names are mapped
// to gene symbols through resolver.
func NewReactomeSource(f Fetcher, resolver SymbolResolver, species string, taxon, workers int) *ReactomeSource {
	if species == "" {
		species = "Homo sapiens"
	}
	if taxon == 0 {
		taxon = 9606
	}
	return &ReactomeSource{
		fetcher:  f,
		resolver: resolver,
		baseURL:  DefaultReactomeURL,
		species:  species,
		taxon:    taxon,
		workers:  workers,
		logger:   zap.NewNop(),
	}
}

// SetBaseURL overrides the ContentService endpoint.
func (s *ReactomeSource) SetBaseURL(u string) { s.baseURL = strings.TrimRight(u, "/") }

// SetLogger sets the logger for lookup failures.
func (s *ReactomeSource) SetLogger(l *zap.Logger) { s.logger = l }

// Count returns the number of pathways Reactome holds for the taxon.
func (s *ReactomeSource) Count(ctx context.Context) (int, error) {
	body, err := s.fetcher.Fetch(ctx, fmt.Sprintf("%s/data/schema/Pathway/count?species=%d", s.baseURL, s.taxon))
	if err != nil {
		return 0, fmt.Errorf("count Reactome pathways: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil {
		return 0, fmt.Errorf("count Reactome pathways: %w", err)
	}
	return n, nil
}

// Build returns an empty cache stamped with the upstream size.
func (s *ReactomeSource) Build(ctx context.Context) (*Cache, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	c := NewCache()
	c.SetInitialSize(n)
	return c, nil
}

type reactomeSearch struct {
	Results []struct {
		Entries []struct {
			StID string `json:"stId"`
		} `json:"entries"`
	} `json:"results"`
}

// search returns the IDs of the pathways matching gene.
func (s *ReactomeSource) search(ctx context.Context, gene string) ([]string, error) {
	u := fmt.Sprintf("%s/search/query?query=%s&species=%s&types=Pathway",
		s.baseURL, url.QueryEscape(gene), url.QueryEscape(s.species))
	body, err := s.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("search Reactome for %s: %w", gene, err)
	}

	var res reactomeSearch
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("decode Reactome search for %s: %w", gene, err)
	}
	var ids []string
	for _, r := range res.Results {
		for _, e := range r.Entries {
			if e.StID != "" {
				ids = append(ids, e.StID)
			}
		}
	}
	return ids, nil
}

type reactomeEntity struct {
	DBID        int64  `json:"dbId"`
	StID        string `json:"stId"`
	DisplayName string `json:"displayName"`
	SchemaClass string `json:"schemaClass"`
}

type reactomeParticipant struct {
	PEDBID      int64            `json:"peDbId"`
	DisplayName string           `json:"displayName"`
	SchemaClass string           `json:"schemaClass"`
	RefEntities []reactomeEntity `json:"refEntities"`
}

// pathway fetches the display name and member genes of a pathway.
func (s *ReactomeSource) pathway(ctx context.Context, id string) (Pathway, error) {
	name, err := s.fetcher.Fetch(ctx, fmt.Sprintf("%s/data/query/%s/displayName", s.baseURL, url.PathEscape(id)))
	if err != nil {
		return Pathway{}, fmt.Errorf("fetch Reactome name for %s: %w", id, err)
	}
	body, err := s.fetcher.Fetch(ctx, fmt.Sprintf("%s/data/participants/%s", s.baseURL, url.PathEscape(id)))
	if err != nil {
		return Pathway{}, fmt.Errorf("fetch Reactome participants for %s: %w", id, err)
	}
	var participants []reactomeParticipant
	if err := json.Unmarshal([]byte(body), &participants); err != nil {
		return Pathway{}, fmt.Errorf("decode Reactome participants for %s: %w", id, err)
	}

	p := Pathway{ID: id, Name: strings.TrimSpace(name)}
	seen := make(map[string]bool)
	add := func(display string) {
		sym, ok := s.participantSymbol(display)
		if !ok || seen[sym] {
			return
		}
		seen[sym] = true
		p.Genes = append(p.Genes, sym)
	}

	for _, part := range participants {
		if part.SchemaClass == "Complex" {
			subunits, err := s.subunits(ctx, part.PEDBID)
			if err == nil {
				for _, sub := range subunits {
					add(sub.DisplayName)
				}
				continue
			}
			s.logger.Debug("complex subunits unavailable, using reference entities",
				zap.Int64("complex", part.PEDBID), zap.Error(err))
		}
		for _, ref := range part.RefEntities {
			add(ref.DisplayName)
		}
	}
	return p, nil
}

// subunits lists the direct subunits of a complex.
func (s *ReactomeSource) subunits(ctx context.Context, dbID int64) ([]reactomeEntity, error) {
	body, err := s.fetcher.Fetch(ctx, fmt.Sprintf("%s/data/complex/%d/subunits", s.baseURL, dbID))
	if err != nil {
		return nil, err
	}
	var out []reactomeEntity
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("decode subunits: %w", err)
	}
	return out, nil
}

// participantSymbol maps a Reactome display name such as
// "UniProt:P00533 EGFR" or "EGFR [plasma membrane]" to a gene symbol.
func (s *ReactomeSource) participantSymbol(display string) (string, bool) {
	if i := strings.Index(display, " ["); i >= 0 {
		display = display[:i]
	}
	fields := strings.Fields(display)
	if len(fields) == 0 || s.resolver == nil {
		return "", false
	}
	name := fields[len(fields)-1]
	if sym, ok := s.resolver.CanonicalSymbol(name); ok {
		return sym, true
	}
	// Modified forms such as "p-Y1068-EGFR".
	if i := strings.LastIndex(name, "-"); i >= 0 && i < len(name)-1 {
		return s.resolver.CanonicalSymbol(name[i+1:])
	}
	return "", false
}

// reactomeCatalog populates its cache one gene at a time.
type reactomeCatalog struct {
	cachedCatalog
	src *ReactomeSource
}

func (c *reactomeCatalog) Pathways(ctx context.Context, gene string) []Pathway {
	c.populate(ctx, gene)
	return c.cache.Lookup(gene)
}

func (c *reactomeCatalog) InAnyPathway(ctx context.Context, gene string) bool {
	c.populate(ctx, gene)
	return c.cache.Contains(gene)
}

// populate fetches the pathways of gene unless it was searched before.
// A gene with no upstream hits is marked searched; a failed search is not,
// so it is retried on the next run.
func (c *reactomeCatalog) populate(ctx context.Context, gene string) {
	if gene == "" || c.cache.Searched(gene) {
		return
	}

	ids, err := c.src.search(ctx, gene)
	if err != nil {
		if fetch.IsNotFound(err) {
			c.cache.MarkSearched(gene)
			return
		}
		c.src.logger.Error("Reactome search failed", zap.String("gene", gene), zap.Error(err))
		return
	}

	var missing []string
	for _, id := range ids {
		if !c.cache.HasID(id) {
			missing = append(missing, id)
		}
	}
	fetched := parallel.Map(ctx, missing, c.src.workers, func(ctx context.Context, id string) (Pathway, bool) {
		p, err := c.src.pathway(ctx, id)
		if err != nil {
			c.src.logger.Warn("skipping Reactome pathway", zap.String("id", id), zap.Error(err))
			return Pathway{}, false
		}
		return p, true
	})
	for _, id := range missing {
		if p, ok := fetched[id]; ok {
			c.cache.Put(p.ID, p.Name, p.Genes)
		}
	}
	if len(fetched) == len(missing) {
		c.cache.MarkSearched(gene)
	}
}
