package feature

import "sort"

// GeneSet is a named, unordered collection of gene symbols.
// Identifier is the catalog-specific key and may be empty for ad-hoc sets.
type GeneSet struct {
	Identifier string
	Name       string
	members    map[string]struct{}
}

// NewGeneSet creates a gene set with the given members.
func NewGeneSet(identifier, name string, symbols ...string) *GeneSet {
	gs := &GeneSet{
		Identifier: identifier,
		Name:       name,
		members:    make(map[string]struct{}, len(symbols)),
	}
	for _, s := range symbols {
		gs.Add(s)
	}
	return gs
}

// Add adds a symbol to the set. Empty symbols are ignored.
func (gs *GeneSet) Add(symbol string) {
	if symbol == "" {
		return
	}
	if gs.members == nil {
		gs.members = make(map[string]struct{})
	}
	gs.members[symbol] = struct{}{}
}

// Contains returns true if symbol is a member of the set.
func (gs *GeneSet) Contains(symbol string) bool {
	_, ok := gs.members[symbol]
	return ok
}

// Len returns the number of members.
func (gs *GeneSet) Len() int {
	return len(gs.members)
}

// Symbols returns the members in sorted order.
func (gs *GeneSet) Symbols() []string {
	out := make([]string, 0, len(gs.members))
	for s := range gs.members {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
