package idmap

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// GeneInfo is one row of an NCBI gene_info file.
type GeneInfo struct {
	TaxID    int
	GeneID   string
	Symbol   string
	Synonyms []string
}

// Aliases maps alternative gene names to official symbols.
type Aliases struct {
	primary  map[string]string   // upper(symbol) -> symbol
	synonym  map[string]string   // upper(synonym) -> symbol
	synonyms map[string][]string // upper(symbol) -> synonyms
}

// NewAliases builds an alias table from gene_info records.
// When a synonym is shared by several genes the first record wins.
func NewAliases(records []GeneInfo) *Aliases {
	a := &Aliases{
		primary:  make(map[string]string, len(records)),
		synonym:  make(map[string]string),
		synonyms: make(map[string][]string, len(records)),
	}
	for _, rec := range records {
		key := nameKey(rec.Symbol)
		if key == "" {
			continue
		}
		if _, ok := a.primary[key]; !ok {
			a.primary[key] = rec.Symbol
		}
		for _, syn := range rec.Synonyms {
			a.synonyms[key] = append(a.synonyms[key], syn)
			if _, ok := a.synonym[nameKey(syn)]; !ok {
				a.synonym[nameKey(syn)] = rec.Symbol
			}
		}
	}
	return a
}

// Canonical returns the official symbol for name, trying official symbols
// before synonyms.
func (a *Aliases) Canonical(name string) (string, bool) {
	if a == nil {
		return "", false
	}
	key := nameKey(name)
	if s, ok := a.primary[key]; ok {
		return s, true
	}
	if s, ok := a.synonym[key]; ok {
		return s, true
	}
	return "", false
}

// Synonyms returns the alternative names listed for an official symbol.
func (a *Aliases) Synonyms(symbol string) []string {
	if a == nil {
		return nil
	}
	return a.synonyms[nameKey(symbol)]
}

// Len returns the number of official symbols.
func (a *Aliases) Len() int {
	if a == nil {
		return 0
	}
	return len(a.primary)
}

// LoadGeneInfo reads an NCBI gene_info file (optionally gzipped), keeping
// only rows of the given taxon. A taxon of 0 keeps every row.
func LoadGeneInfo(path string, taxon int) ([]GeneInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gene info: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip gene info: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return parseGeneInfo(r, taxon)
}

// parseGeneInfo parses gene_info content. The header line starts with '#'
// and names the columns; "tax_id", "GeneID", "Symbol" and "Synonyms" are used.
func parseGeneInfo(r io.Reader, taxon int) ([]GeneInfo, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("gene info: empty file")
	}
	header := strings.Split(strings.TrimPrefix(scanner.Text(), "#"), "\t")

	taxIdx, idIdx, symIdx, synIdx := -1, -1, -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "tax_id":
			taxIdx = i
		case "GeneID":
			idIdx = i
		case "Symbol":
			symIdx = i
		case "Synonyms":
			synIdx = i
		}
	}
	if symIdx < 0 || idIdx < 0 {
		return nil, fmt.Errorf("gene info: missing 'GeneID' or 'Symbol' column")
	}

	var records []GeneInfo
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) <= symIdx || len(fields) <= idIdx {
			continue
		}

		rec := GeneInfo{
			GeneID: strings.TrimSpace(fields[idIdx]),
			Symbol: strings.TrimSpace(fields[symIdx]),
		}
		if taxIdx >= 0 && taxIdx < len(fields) {
			rec.TaxID, _ = strconv.Atoi(strings.TrimSpace(fields[taxIdx]))
		}
		if taxon > 0 && rec.TaxID != taxon {
			continue
		}
		if rec.Symbol == "" || rec.Symbol == "-" {
			continue
		}
		if synIdx >= 0 && synIdx < len(fields) {
			if syn := strings.TrimSpace(fields[synIdx]); syn != "" && syn != "-" {
				rec.Synonyms = strings.Split(syn, "|")
			}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading gene info: %w", err)
	}
	return records, nil
}
