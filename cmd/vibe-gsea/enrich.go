package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/enrich"
	"github.com/inodb/vibe-gsea/internal/feature"
	"github.com/inodb/vibe-gsea/internal/output"
	"github.com/inodb/vibe-gsea/internal/parallel"
	"github.com/inodb/vibe-gsea/internal/pathway"
)

func newEnrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich [options] <ranked-file>",
		Short: "Test pathways for enrichment in a ranked gene list",
		Long: `Rank genes by significance and test every pathway containing at least one
of them for enrichment at the top or bottom of the list.

The input is tab-separated: symbol, FDR, fold change and an optional
description. Use '-' to read from stdin.`,
		Example: `  vibe-gsea enrich de_genes.tsv
  vibe-gsea enrich --backend reactome --step-weight 0 -o results.tsv de_genes.tsv
  cat de_genes.tsv | vibe-gsea enrich --backend wikipathways -`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(cmd.Flags(), map[string]string{
				"pathway.backend":     "backend",
				"pathway.refresh":     "refresh",
				"enrich.seed":         "seed",
				"enrich.permutations": "permutations",
				"enrich.step_weight":  "step-weight",
			})
			backend, err := pathway.ParseBackend(viper.GetString("pathway.backend"))
			if err != nil {
				return usageError(cmd, err)
			}
			engine := enrich.New(viper.GetUint64("enrich.seed"))
			if err := engine.SetStepWeight(viper.GetFloat64("enrich.step_weight")); err != nil {
				return usageError(cmd, err)
			}
			engine.SetPermutations(viper.GetInt("enrich.permutations"))

			opts := enrichOptions{
				input:   args[0],
				output:  flagString(cmd, "output"),
				resolve: flagBool(cmd, "resolve"),
				minSize: flagInt(cmd, "min-size"),
				maxSize: flagInt(cmd, "max-size"),
				backend: backend,
				engine:  engine,
			}
			return withApp(func(a *app) error {
				engine.SetLogger(a.logger.Named("enrich"))
				return runEnrich(cmd.Context(), a, opts)
			})
		},
	}

	f := cmd.Flags()
	f.StringP("backend", "b", "kegg", "Pathway backend: kegg, wikipathways or reactome")
	f.Bool("refresh", false, "Rebuild the pathway catalog if upstream changed")
	f.Uint64("seed", 0, "Seed for the permutation null distribution")
	f.Int("permutations", enrich.DefaultPermutations, "Number of permutations")
	f.Float64("step-weight", 1, "Exponent applied to hit scores (0, 1, 1.5 or 2)")
	f.StringP("output", "o", "", "Output file (default: stdout)")
	f.Bool("resolve", false, "Resolve registry IDs for every gene before ranking")
	f.Int("min-size", 1, "Skip pathways with fewer members")
	f.Int("max-size", 0, "Skip pathways with more members (0: no limit)")
	return cmd
}

type enrichOptions struct {
	input   string
	output  string
	resolve bool
	minSize int
	maxSize int
	backend pathway.Backend
	engine  *enrich.Engine
}

func runEnrich(ctx context.Context, a *app, opts enrichOptions) error {
	features, err := readFeatures(opts.input)
	if err != nil {
		return err
	}
	if opts.resolve {
		n := len(features)
		features = a.resolver.ResolveAll(ctx, features, a.workers)
		if dropped := n - len(features); dropped > 0 {
			a.logger.Warn("dropped unresolved genes", zap.Int("dropped", dropped))
		}
	}
	for i := range features {
		if s, ok := a.resolver.CanonicalSymbol(features[i].Name); ok {
			features[i].Name = s
		}
	}
	ranked := feature.Rank(features)
	if len(ranked) == 0 {
		return fmt.Errorf("no genes to rank in %s", opts.input)
	}

	catalog, err := a.catalogs.Get(ctx, opts.backend)
	if err != nil {
		return err
	}
	sets := candidateSets(ctx, catalog, ranked, a.workers, opts.minSize, opts.maxSize)
	a.logger.Info("testing gene sets",
		zap.String("backend", string(opts.backend)),
		zap.Int("genes", len(ranked)), zap.Int("sets", len(sets)))

	results, err := opts.engine.RunAll(ctx, sets, ranked)
	if err != nil {
		return err
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].PValue != results[j].PValue {
			return results[i].PValue < results[j].PValue
		}
		return results[i].Name < results[j].Name
	})

	out, closeOut, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer closeOut()
	return output.NewTabWriter(out).WriteAll(results)
}

// candidateSets returns the gene sets of every pathway containing a ranked
// gene, filtered by size and ordered by name. Membership lookups run
// concurrently, which also populates lazily built catalogs.
func candidateSets(ctx context.Context, c pathway.Catalog, ranked []feature.ScoredGene, workers, minSize, maxSize int) []*feature.GeneSet {
	genes := make([]string, len(ranked))
	for i, g := range ranked {
		genes[i] = g.Symbol
	}
	memberships := parallel.Map(ctx, genes, workers, func(ctx context.Context, gene string) ([]pathway.Pathway, bool) {
		p := c.Pathways(ctx, gene)
		return p, len(p) > 0
	})

	names := make(map[string]bool)
	for _, pws := range memberships {
		for _, p := range pws {
			names[p.Name] = true
		}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	sets := make([]*feature.GeneSet, 0, len(sorted))
	for _, n := range sorted {
		gs, ok := c.GeneSet(n)
		if !ok || gs.Len() < minSize || (maxSize > 0 && gs.Len() > maxSize) {
			continue
		}
		sets = append(sets, gs)
	}
	return sets
}

func readFeatures(path string) ([]feature.Feature, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open ranked list: %w", err)
		}
		defer f.Close()
		r = f
	}
	features, err := feature.ReadRankedTSV(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return features, nil
}

// openOutput returns stdout for an empty path, or a newly created file.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// bindFlags binds config keys to the flags of the running command, so a
// flag given on the command line overrides the config file.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		viper.BindPFlag(key, fs.Lookup(name))
	}
}

// usageArgs turns argument validation failures into usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return usageError(cmd, err)
		}
		return nil
	}
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func flagBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}

func flagInt(cmd *cobra.Command, name string) int {
	v, _ := cmd.Flags().GetInt(name)
	return v
}
