// Package feature defines the gene records exchanged between the identifier
// resolver, the pathway catalogs and the enrichment engine.
package feature

import (
	"math"
	"sort"
)

// Feature is a differentially expressed gene or protein.
type Feature struct {
	Name        string  // Gene symbol (e.g., EGFR)
	RegistryID  string  // Registry identifier (e.g., Entrez 1956)
	FDR         float64 // False discovery rate of the expression change
	FoldChange  float64 // Signed log-ratio between conditions
	Description string
}

// Resolved returns true if both the symbol and the registry ID are known.
func (f *Feature) Resolved() bool {
	return f.Name != "" && f.RegistryID != ""
}

// Score returns the significance score used to rank the feature.
func (f *Feature) Score() float64 {
	return SignificanceScore(f.FoldChange, f.FDR)
}

// Gene is a Feature annotated with the pathways it was assigned to.
type Gene struct {
	Feature
	Pathways []string
}

// AddPathway records a pathway assignment, ignoring duplicates.
func (g *Gene) AddPathway(name string) {
	for _, p := range g.Pathways {
		if p == name {
			return
		}
	}
	g.Pathways = append(g.Pathways, name)
}

// SignificanceScore combines direction, magnitude and significance of a change:
// sign(fc) * log2(|fc|) * -log10(fdr).
// An FDR of zero is clamped to the smallest positive float.
func SignificanceScore(foldChange, fdr float64) float64 {
	if foldChange == 0 {
		return 0
	}
	if fdr <= 0 {
		fdr = math.SmallestNonzeroFloat64
	}
	sign := 1.0
	if foldChange < 0 {
		sign = -1.0
	}
	return sign * math.Log2(math.Abs(foldChange)) * -math.Log10(fdr)
}

// ScoredGene is one entry of a ranked list.
type ScoredGene struct {
	Symbol string
	Score  float64
}

// Rank scores features and orders them by descending score.
// Ties are broken by symbol so the order is deterministic. A symbol listed
// more than once keeps the row with the largest absolute score.
func Rank(features []Feature) []ScoredGene {
	ranked := make([]ScoredGene, 0, len(features))
	index := make(map[string]int, len(features))
	for i := range features {
		if features[i].Name == "" {
			continue
		}
		g := ScoredGene{Symbol: features[i].Name, Score: features[i].Score()}
		if j, ok := index[g.Symbol]; ok {
			if math.Abs(g.Score) > math.Abs(ranked[j].Score) {
				ranked[j] = g
			}
			continue
		}
		index[g.Symbol] = len(ranked)
		ranked = append(ranked, g)
	}
	SortRanked(ranked)
	return ranked
}

// SortRanked orders a ranked list by descending score, then by symbol.
func SortRanked(ranked []ScoredGene) {
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
}
