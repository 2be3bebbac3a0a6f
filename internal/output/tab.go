// Package output provides tab-delimited result formatters.
package output

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/inodb/vibe-gsea/internal/enrich"
	"github.com/inodb/vibe-gsea/internal/pathway"
	"github.com/inodb/vibe-gsea/internal/ppi"
)

// TabWriter writes enrichment results in tab-delimited format.
type TabWriter struct {
	w       *bufio.Writer
	columns []string
}

// NewTabWriter creates a new tab-delimited writer.
func NewTabWriter(w io.Writer) *TabWriter {
	return &TabWriter{
		w: bufio.NewWriter(w),
		columns: []string{
			"#Gene_set",
			"Name",
			"Size",
			"Hits",
			"ES",
			"NES",
			"P_value",
		},
	}
}

// WriteHeader writes the header line.
func (tw *TabWriter) WriteHeader() error {
	return tw.row(tw.columns)
}

// Write writes a single enrichment result. An undefined NES is written as NA.
func (tw *TabWriter) Write(r enrich.Result) error {
	id := r.Identifier
	if id == "" {
		id = "-"
	}
	nes := "NA"
	if r.NESDefined {
		nes = formatFloat(r.NES)
	}
	return tw.row([]string{
		id,
		r.Name,
		strconv.Itoa(r.Size),
		strconv.Itoa(r.Hits),
		formatFloat(r.ES),
		nes,
		formatFloat(r.PValue),
	})
}

// WriteAll writes the header followed by every result and flushes.
func (tw *TabWriter) WriteAll(results []enrich.Result) error {
	if err := tw.WriteHeader(); err != nil {
		return err
	}
	for _, r := range results {
		if err := tw.Write(r); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WritePathways writes one gene,backend,pathway line per membership.
func (tw *TabWriter) WritePathways(gene string, b pathway.Backend, pws []pathway.Pathway) error {
	for _, p := range pws {
		id := p.ID
		if id == "" {
			id = "-"
		}
		if err := tw.row([]string{gene, string(b), id, p.Name}); err != nil {
			return err
		}
	}
	return nil
}

// WritePartners writes one gene,partner,score line per partner, strongest first.
func (tw *TabWriter) WritePartners(gene string, p ppi.Partners) error {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if p[names[i]] != p[names[j]] {
			return p[names[i]] > p[names[j]]
		}
		return names[i] < names[j]
	})
	for _, n := range names {
		if err := tw.row([]string{gene, n, formatFloat(p[n])}); err != nil {
			return err
		}
	}
	return nil
}

func (tw *TabWriter) row(values []string) error {
	_, err := tw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// Flush flushes any buffered data to the underlying writer.
func (tw *TabWriter) Flush() error {
	return tw.w.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
