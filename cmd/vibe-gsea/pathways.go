package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inodb/vibe-gsea/internal/feature"
	"github.com/inodb/vibe-gsea/internal/output"
	"github.com/inodb/vibe-gsea/internal/pathway"
)

func newPathwaysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pathways [options] <gene>...",
		Short: "List the pathways containing each gene",
		Example: `  vibe-gsea pathways EGFR TP53
  vibe-gsea pathways --backend all --summary BRCA1
  vibe-gsea pathways --list --backend kegg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(cmd.Flags(), map[string]string{
				"pathway.backend": "backend",
				"pathway.refresh": "refresh",
			})
			list := flagBool(cmd, "list")
			if !list && len(args) == 0 {
				return usageError(cmd, fmt.Errorf("at least one gene is required"))
			}
			backends, err := parseBackends(viper.GetString("pathway.backend"))
			if err != nil {
				return usageError(cmd, err)
			}
			summary := flagBool(cmd, "summary")

			return withApp(func(a *app) error {
				ctx := cmd.Context()
				out, closeOut, err := openOutput(flagString(cmd, "output"))
				if err != nil {
					return err
				}
				defer closeOut()

				for _, b := range backends {
					c, err := a.catalogs.Get(ctx, b)
					if err != nil {
						return err
					}
					if list {
						for _, name := range c.Names() {
							fmt.Fprintf(out, "%s\t%s\n", b, name)
						}
						continue
					}
					if err := writeMemberships(ctx, out, c, b, args, summary); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringP("backend", "b", "kegg", "Pathway backend: kegg, wikipathways, reactome or all")
	f.Bool("refresh", false, "Rebuild the pathway catalog if upstream changed")
	f.Bool("list", false, "List every pathway name held by the catalog")
	f.Bool("summary", false, "Print one line per gene with its pathway count")
	f.StringP("output", "o", "", "Output file (default: stdout)")
	return cmd
}

// parseBackends accepts a single backend name or "all".
func parseBackends(s string) ([]pathway.Backend, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return pathway.Backends, nil
	}
	b, err := pathway.ParseBackend(s)
	if err != nil {
		return nil, err
	}
	return []pathway.Backend{b}, nil
}

func writeMemberships(ctx context.Context, w io.Writer, c pathway.Catalog, b pathway.Backend, genes []string, summary bool) error {
	tw := output.NewTabWriter(w)
	for _, sym := range genes {
		pws := c.Pathways(ctx, sym)
		if !summary {
			if err := tw.WritePathways(sym, b, pws); err != nil {
				return err
			}
			continue
		}

		g := feature.Gene{Feature: feature.Feature{Name: sym}}
		for _, p := range pws {
			g.AddPathway(p.Name)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", sym, b, len(g.Pathways), strings.Join(g.Pathways, "; ")); err != nil {
			return err
		}
	}
	return tw.Flush()
}
