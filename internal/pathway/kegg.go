package pathway

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/parallel"
)

// DefaultKEGGURL is the KEGG REST endpoint.
const DefaultKEGGURL = "https://rest.kegg.jp"

// KEGGSource reads pathways from the KEGG REST flat-file interface.
type KEGGSource struct {
	fetcher  Fetcher
	baseURL  string
	organism string
	workers  int
	logger   *zap.Logger
}

// NewKEGGSource creates a KEGG source for a KEGG organism code such as "hsa".
func NewKEGGSource(f Fetcher, organism string, workers int) *KEGGSource {
	if organism == "" {
		organism = "hsa"
	}
	return &KEGGSource{
		fetcher:  f,
		baseURL:  DefaultKEGGURL,
		organism: organism,
		workers:  workers,
		logger:   zap.NewNop(),
	}
}

// SetBaseURL overrides the REST endpoint.
func (s *KEGGSource) SetBaseURL(u string) { s.baseURL = strings.TrimRight(u, "/") }

// SetLogger sets the logger for skipped entries.
func (s *KEGGSource) SetLogger(l *zap.Logger) { s.logger = l }

type keggListing struct {
	ID   string
	Name string
}

// "path:hsa00010\tGlycolysis / Gluconeogenesis - Homo sapiens (human)"
var keggListLine = regexp.MustCompile(`^(?:path:)?(\S+)\t(.+)$`)

// " - Homo sapiens (human)"
var keggSpeciesSuffix = regexp.MustCompile(`\s+-\s+[^-]+\([^)]*\)$`)

func (s *KEGGSource) list(ctx context.Context) ([]keggListing, error) {
	body, err := s.fetcher.Fetch(ctx, fmt.Sprintf("%s/list/pathway/%s", s.baseURL, s.organism))
	if err != nil {
		return nil, fmt.Errorf("list KEGG pathways: %w", err)
	}
	return parseKEGGList(body), nil
}

func parseKEGGList(body string) []keggListing {
	var out []keggListing
	for _, line := range strings.Split(body, "\n") {
		m := keggListLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		name := keggSpeciesSuffix.ReplaceAllString(strings.TrimSpace(m[2]), "")
		out = append(out, keggListing{ID: m[1], Name: name})
	}
	return out
}

// Count returns the number of listed pathways.
func (s *KEGGSource) Count(ctx context.Context) (int, error) {
	listing, err := s.list(ctx)
	if err != nil {
		return 0, err
	}
	return len(listing), nil
}

// Build lists all pathways and fetches their entries concurrently.
// Entries that cannot be fetched are skipped.
func (s *KEGGSource) Build(ctx context.Context) (*Cache, error) {
	listing, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	if len(listing) == 0 {
		return nil, fmt.Errorf("list KEGG pathways: empty listing")
	}

	ids := make([]string, len(listing))
	for i, l := range listing {
		ids[i] = l.ID
	}
	genes := parallel.Map(ctx, ids, s.workers, func(ctx context.Context, id string) ([]string, bool) {
		body, err := s.fetcher.Fetch(ctx, fmt.Sprintf("%s/get/%s", s.baseURL, id))
		if err != nil {
			s.logger.Warn("skipping KEGG pathway", zap.String("id", id), zap.Error(err))
			return nil, false
		}
		return parseKEGGGenes(body), true
	})

	c := NewCache()
	for _, l := range listing {
		if g, ok := genes[l.ID]; ok {
			c.Put(l.ID, l.Name, g)
		}
	}
	c.SetInitialSize(len(listing))
	s.logger.Info("built KEGG catalog",
		zap.Int("listed", len(listing)), zap.Int("fetched", len(genes)))
	return c, nil
}

// "GENE        3101  HK3; hexokinase 3 [KO:K00844]" and its continuation lines.
var keggGeneLine = regexp.MustCompile(`^(?:GENE)?\s+\d+\s+([^;\s]+);`)

// parseKEGGGenes extracts gene symbols from the GENE section of a KEGG entry.
// The section runs until the next line starting with a heading.
func parseKEGGGenes(body string) []string {
	var genes []string
	inGene := false

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" && line[0] != ' ' {
			inGene = strings.HasPrefix(line, "GENE")
		}
		if !inGene {
			continue
		}
		if m := keggGeneLine.FindStringSubmatch(line); m != nil {
			genes = append(genes, m[1])
		}
	}
	return genes
}
