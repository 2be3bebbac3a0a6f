package idmap

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/inodb/vibe-gsea/internal/fetch"
)

// DefaultRegistryURL is the NCBI E-utilities endpoint.
const DefaultRegistryURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// Fetcher retrieves a URL as text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Registry queries the NCBI Gene database.
type Registry struct {
	fetcher Fetcher
	baseURL string
	taxon   int
}

// NewRegistry creates a registry client for the given NCBI taxonomy ID.
func NewRegistry(f Fetcher, taxon int) *Registry {
	return &Registry{
		fetcher: f,
		baseURL: DefaultRegistryURL,
		taxon:   taxon,
	}
}

// SetBaseURL overrides the E-utilities endpoint.
func (r *Registry) SetBaseURL(u string) {
	r.baseURL = strings.TrimRight(u, "/")
}

// esearchResult is the part of an esearch response we use.
type esearchResult struct {
	IDs []string `xml:"IdList>Id"`
}

// LookupID returns the Gene ID for an official symbol.
func (r *Registry) LookupID(ctx context.Context, symbol string) (string, error) {
	term := fmt.Sprintf("%s[sym] AND %d[taxid]", symbol, r.taxon)
	u := fmt.Sprintf("%s/esearch.fcgi?db=gene&term=%s", r.baseURL, url.QueryEscape(term))

	body, err := r.fetcher.Fetch(ctx, u)
	if err != nil {
		return "", fmt.Errorf("lookup id for %s: %w", symbol, err)
	}

	var res esearchResult
	if err := xml.Unmarshal([]byte(body), &res); err != nil {
		return "", fmt.Errorf("decode esearch response for %s: %w", symbol, err)
	}
	for _, id := range res.IDs {
		if id = strings.TrimSpace(id); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("lookup id for %s: %w", symbol, fetch.ErrNotFound)
}

var listPrefix = regexp.MustCompile(`^\d+\.\s+`)

// LookupName returns the official symbol for a Gene ID.
// The text report lists the symbol on its second line as "1. SYMBOL".
func (r *Registry) LookupName(ctx context.Context, id string) (string, error) {
	u := fmt.Sprintf("%s/efetch.fcgi?db=gene&id=%s&retmode=text", r.baseURL, url.QueryEscape(id))

	body, err := r.fetcher.Fetch(ctx, u)
	if err != nil {
		return "", fmt.Errorf("lookup name for %s: %w", id, err)
	}

	name := parseSymbolReport(body)
	if name == "" {
		return "", fmt.Errorf("lookup name for %s: %w", id, fetch.ErrNotFound)
	}
	return name, nil
}

// parseSymbolReport extracts the symbol from an efetch text report.
func parseSymbolReport(body string) string {
	lines := strings.Split(body, "\n")
	line := ""
	if len(lines) > 1 {
		line = strings.TrimSpace(lines[1])
	}
	if line == "" {
		for _, l := range lines {
			if l = strings.TrimSpace(l); l != "" {
				line = l
				break
			}
		}
	}
	line = listPrefix.ReplaceAllString(line, "")
	if fields := strings.Fields(line); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
