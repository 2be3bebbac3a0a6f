// Package pathway provides pathway catalogs backed by KEGG, WikiPathways and
// Reactome. Each catalog is loaded from a local snapshot when one exists and
// refreshed from its upstream service on request.
package pathway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/inodb/vibe-gsea/internal/feature"
)

// Backend identifies a pathway data source.
type Backend string

const (
	KEGG         Backend = "kegg"
	WikiPathways Backend = "wikipathways"
	Reactome     Backend = "reactome"
)

// Backends lists the built-in backends in display order.
var Backends = []Backend{KEGG, WikiPathways, Reactome}

var (
	// ErrUnknownBackend is returned for a backend name with no constructor.
	ErrUnknownBackend = errors.New("unknown pathway backend")

	// ErrCatalogUnavailable is returned when no snapshot exists and the
	// catalog could not be built from its upstream service.
	ErrCatalogUnavailable = errors.New("pathway catalog unavailable")
)

// ParseBackend converts a user-supplied name to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case KEGG, WikiPathways, Reactome:
		return b, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// Pathway is a named set of member gene symbols.
type Pathway struct {
	ID    string
	Name  string
	Genes []string
}

// GeneSet converts the pathway to a feature.GeneSet.
func (p Pathway) GeneSet() *feature.GeneSet {
	return feature.NewGeneSet(p.ID, p.Name, p.Genes...)
}

// Catalog answers pathway membership queries for gene symbols.
type Catalog interface {
	// Pathways returns every pathway containing gene.
	Pathways(ctx context.Context, gene string) []Pathway
	// InAnyPathway reports whether gene belongs to at least one pathway.
	InAnyPathway(ctx context.Context, gene string) bool
	// GeneSet returns the pathway with the given name as a gene set.
	GeneSet(name string) (*feature.GeneSet, bool)
	// Names returns the names of all pathways currently held, sorted.
	Names() []string
}

// Fetcher retrieves a URL as text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// SymbolResolver maps a display name to an official gene symbol.
type SymbolResolver interface {
	CanonicalSymbol(name string) (string, bool)
}
