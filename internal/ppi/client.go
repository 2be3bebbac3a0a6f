package ppi

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/fetch"
	"github.com/inodb/vibe-gsea/internal/parallel"
)

// DefaultStringURL is the STRING API endpoint.
const DefaultStringURL = "https://string-db.org"

// DefaultMinScore is the default confidence threshold.
const DefaultMinScore = 0.4

// Fetcher retrieves a URL as text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// AliasResolver supplies alternative names for a gene.
type AliasResolver interface {
	CanonicalSymbol(name string) (string, bool)
	Aliases(symbol string) []string
}

// Options configures a Client.
type Options struct {
	MinScore    float64 // confidence threshold in [0,1]
	Taxon       int     // NCBI taxonomy ID for live queries
	MaxAttempts int     // attempts to obtain a parseable live response
}

// Client resolves interaction partners from a loaded Store or, when no store
// is available, from the STRING API.
type Client struct {
	store    *Store
	fetcher  Fetcher
	aliases  AliasResolver
	opts     Options
	baseURL  string
	logger   *zap.Logger
	useStore bool
}

// NewClient creates a client. store may be nil; an empty store is treated
// as absent.
func NewClient(store *Store, f Fetcher, opts Options) *Client {
	if opts.Taxon == 0 {
		opts.Taxon = 9606
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = fetch.DefaultMaxAttempts
	}
	return &Client{
		store:    store,
		fetcher:  f,
		opts:     opts,
		baseURL:  DefaultStringURL,
		logger:   zap.NewNop(),
		useStore: store != nil && store.Loaded(),
	}
}

// SetLogger sets the logger for lookup failures.
func (c *Client) SetLogger(l *zap.Logger) { c.logger = l }

// SetAliases installs the resolver used to retry cache misses under alternative names.
func (c *Client) SetAliases(a AliasResolver) { c.aliases = a }

// SetBaseURL overrides the STRING API endpoint.
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// Cached reports whether lookups are answered from the local store.
func (c *Client) Cached() bool { return c.useStore }

// Partners returns the interaction partners of gene scoring at least the
// configured minimum. Missing data yields an empty map, not an error.
func (c *Client) Partners(ctx context.Context, gene string) (Partners, error) {
	if c.useStore {
		return c.cachedPartners(gene)
	}
	return c.livePartners(ctx, gene)
}

// cachedPartners looks gene up directly and then under each of its aliases.
func (c *Client) cachedPartners(gene string) (Partners, error) {
	for _, name := range c.candidates(gene) {
		p, err := c.store.Partners(name, c.opts.MinScore)
		if err != nil {
			return nil, err
		}
		if len(p) > 0 {
			return p, nil
		}
	}
	return Partners{}, nil
}

// candidates lists gene, its official symbol and the symbol's synonyms, in
// that order and without repeats.
func (c *Client) candidates(gene string) []string {
	names := []string{gene}
	if c.aliases == nil {
		return names
	}
	seen := map[string]bool{strings.ToUpper(gene): true}
	add := func(n string) {
		if k := strings.ToUpper(n); n != "" && !seen[k] {
			seen[k] = true
			names = append(names, n)
		}
	}
	symbol, ok := c.aliases.CanonicalSymbol(gene)
	if !ok {
		symbol = gene
	}
	add(symbol)
	for _, a := range c.aliases.Aliases(symbol) {
		add(a)
	}
	return names
}

func (c *Client) livePartners(ctx context.Context, gene string) (Partners, error) {
	u := fmt.Sprintf("%s/api/xml/interaction_partners?identifiers=%s&species=%d&required_score=%d",
		c.baseURL, url.QueryEscape(gene), c.opts.Taxon, int(math.Round(c.opts.MinScore*1000)))

	out := make(Partners)
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		body, err := c.fetcher.Fetch(ctx, u)
		switch {
		case err == nil:
		case fetch.IsNotFound(err):
			c.logger.Warn("no interaction data", zap.String("gene", gene))
			return out, nil
		case ctx.Err() != nil:
			return out, ctx.Err()
		default:
			// The fetcher has already spent its own retry budget.
			c.logger.Error("interaction lookup failed", zap.String("gene", gene), zap.Error(err))
			return out, nil
		}

		if err := parseInteractions(strings.NewReader(body), c.opts.MinScore, out); err != nil {
			c.logger.Debug("retrying unparseable interaction response",
				zap.String("gene", gene), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return out, nil
	}

	c.logger.Error("interaction lookup gave up, returning partial result",
		zap.String("gene", gene), zap.Int("partners", len(out)))
	return out, nil
}

type stringRecord struct {
	PreferredNameB string `xml:"preferredName_B"`
	Score          string `xml:"score"`
}

// parseInteractions adds each <record> of a STRING interaction_partners
// response to out. Records decoded before an error are kept.
func parseInteractions(r io.Reader, minScore float64, out Partners) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode interactions: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "record" {
			continue
		}
		var rec stringRecord
		if err := dec.DecodeElement(&rec, &start); err != nil {
			return fmt.Errorf("decode interaction record: %w", err)
		}
		partner := strings.TrimSpace(rec.PreferredNameB)
		score, err := strconv.ParseFloat(strings.TrimSpace(rec.Score), 64)
		if partner == "" || err != nil || score < minScore {
			continue
		}
		if cur, ok := out[partner]; !ok || score > cur {
			out[partner] = score
		}
	}
}

// PartnersBatch looks up several genes concurrently. Genes whose lookup
// returns an error are left out.
func (c *Client) PartnersBatch(ctx context.Context, genes []string, workers int) map[string]Partners {
	return parallel.Map(ctx, genes, workers, func(ctx context.Context, gene string) (Partners, bool) {
		p, err := c.Partners(ctx, gene)
		if err != nil {
			c.logger.Error("interaction lookup failed", zap.String("gene", gene), zap.Error(err))
			return nil, false
		}
		return p, true
	})
}
