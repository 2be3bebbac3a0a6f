package pathway

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/parallel"
)

// DefaultWikiPathwaysURL is the WikiPathways webservice endpoint.
const DefaultWikiPathwaysURL = "https://webservice.wikipathways.org"

// WikiPathwaysSource reads pathways from the WikiPathways webservice.
type WikiPathwaysSource struct {
	fetcher Fetcher
	baseURL string
	species string
	workers int
	logger  *zap.Logger
}

// NewWikiPathwaysSource creates a source for a species name such as "Homo sapiens".
func NewWikiPathwaysSource(f Fetcher, species string, workers int) *WikiPathwaysSource {
	if species == "" {
		species = "Homo sapiens"
	}
	return &WikiPathwaysSource{
		fetcher: f,
		baseURL: DefaultWikiPathwaysURL,
		species: species,
		workers: workers,
		logger:  zap.NewNop(),
	}
}

// SetBaseURL overrides the webservice endpoint.
func (s *WikiPathwaysSource) SetBaseURL(u string) { s.baseURL = strings.TrimRight(u, "/") }

// SetLogger sets the logger for skipped pathways.
func (s *WikiPathwaysSource) SetLogger(l *zap.Logger) { s.logger = l }

// wpRecord is one entry of the listPathways response.
type wpRecord struct {
	ID      string
	Name    string
	Species string
}

func (s *WikiPathwaysSource) list(ctx context.Context) ([]wpRecord, error) {
	u := fmt.Sprintf("%s/listPathways?organism=%s", s.baseURL, url.QueryEscape(s.species))
	body, err := s.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("list WikiPathways: %w", err)
	}
	records, err := parseWPListing(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("list WikiPathways: %w", err)
	}

	out := records[:0]
	for _, r := range records {
		if r.Species == "" || r.Species == s.species {
			out = append(out, r)
		}
	}
	return out, nil
}

// parseWPListing streams the listing, emitting one record per <pathways> element.
func parseWPListing(r io.Reader) ([]wpRecord, error) {
	dec := xml.NewDecoder(r)

	var (
		records []wpRecord
		cur     *wpRecord
		field   string
		text    strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "pathways" {
				cur = &wpRecord{}
				continue
			}
			if cur != nil {
				field = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if cur != nil && field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if cur == nil {
				continue
			}
			if t.Name.Local == "pathways" {
				records = append(records, *cur)
				cur = nil
				continue
			}
			v := strings.TrimSpace(text.String())
			switch field {
			case "id":
				cur.ID = v
			case "name":
				cur.Name = v
			case "species":
				cur.Species = v
			}
			field = ""
		}
	}
	return records, nil
}

// Count returns the number of pathways listed for the species.
func (s *WikiPathwaysSource) Count(ctx context.Context) (int, error) {
	records, err := s.list(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Build fetches every listed pathway document and inserts the pathways in
// listing order, reconciling names against those already inserted.
func (s *WikiPathwaysSource) Build(ctx context.Context) (*Cache, error) {
	records, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("list WikiPathways: no pathways for %s", s.species)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	genes := parallel.Map(ctx, ids, s.workers, func(ctx context.Context, id string) ([]string, bool) {
		g, err := s.pathwayGenes(ctx, id)
		if err != nil {
			s.logger.Warn("skipping WikiPathways pathway", zap.String("id", id), zap.Error(err))
			return nil, false
		}
		return g, true
	})

	c := NewCache()
	var names nameReconciler
	for _, r := range records {
		g, ok := genes[r.ID]
		if !ok {
			continue
		}
		name := r.Name
		if name == "" {
			name = r.ID
		}
		c.Put(r.ID, names.reconcile(name), g)
	}
	c.SetInitialSize(len(records))
	s.logger.Info("built WikiPathways catalog",
		zap.Int("listed", len(records)), zap.Int("fetched", len(genes)))
	return c, nil
}

// nameReconciler holds the sorted pathway names stored so far in a build.
type nameReconciler struct {
	keys []string
}

// reconcile picks the key under which a newly fetched pathway is stored and
// records it.
//
// An exact match is kept. Otherwise the first existing key (in sorted order)
// that contains or is contained in name is reused, so the same pathway
// published under a longer or shorter name is merged. Failing that, name with
// "/" replaced by "-" is used if that form already exists. This is a
// substring heuristic: distinct pathways sharing a name fragment are merged.
func (r *nameReconciler) reconcile(name string) string {
	key := r.match(name)
	if i, found := slices.BinarySearch(r.keys, key); !found {
		r.keys = slices.Insert(r.keys, i, key)
	}
	return key
}

func (r *nameReconciler) match(name string) string {
	if r.has(name) {
		return name
	}
	for _, key := range r.keys {
		if strings.Contains(name, key) || strings.Contains(key, name) {
			return key
		}
	}
	if alt := strings.ReplaceAll(name, "/", "-"); r.has(alt) {
		return alt
	}
	return name
}

func (r *nameReconciler) has(name string) bool {
	_, ok := slices.BinarySearch(r.keys, name)
	return ok
}

type wpGetPathway struct {
	GPML string `xml:"pathway>gpml"`
}

type gpmlDocument struct {
	DataNodes []struct {
		TextLabel string `xml:"TextLabel,attr"`
		Type      string `xml:"Type,attr"`
	} `xml:"DataNode"`
}

func (s *WikiPathwaysSource) pathwayGenes(ctx context.Context, id string) ([]string, error) {
	u := fmt.Sprintf("%s/getPathway?pwId=%s", s.baseURL, url.QueryEscape(id))
	body, err := s.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp wpGetPathway
	if err := xml.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("decode pathway response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(resp.GPML), ""))
	if err != nil {
		return nil, fmt.Errorf("decode GPML payload: %w", err)
	}
	return parseGPML(raw)
}

// parseGPML returns the gene symbols of the Protein and GeneProduct data
// nodes of a GPML document.
func parseGPML(data []byte) ([]string, error) {
	var doc gpmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse GPML: %w", err)
	}

	var genes []string
	for _, n := range doc.DataNodes {
		if n.Type != "Protein" && n.Type != "GeneProduct" {
			continue
		}
		if sym := labelSymbol(n.TextLabel); sym != "" {
			genes = append(genes, sym)
		}
	}
	return genes, nil
}

var (
	ecNumber    = regexp.MustCompile(`^\d+\.\d+\.\d+`)
	leadingWord = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*`)
)

// labelSymbol reduces a data node label to a gene symbol.
// "p-AKT1" -> "AKT1", "MAPK1_iso2" -> "MAPK1", "2.7.1.1" -> "".
func labelSymbol(label string) string {
	label = strings.TrimSpace(label)
	if label == "" || ecNumber.MatchString(label) {
		return ""
	}
	if i := strings.Index(label, "_"); i > 0 {
		label = label[:i]
	}
	for _, prefix := range []string{"p-", "Y-"} {
		label = strings.TrimPrefix(label, prefix)
	}
	return strings.TrimRight(leadingWord.FindString(label), "-")
}
