package main

import (
	"bufio"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/feature"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [options] <symbol-or-id>...",
		Short: "Translate gene symbols to registry IDs and back",
		Long: `Resolve each argument against the identifier cache, falling back to the
NCBI Gene registry. Numeric arguments are treated as registry IDs, anything
else as a gene symbol. Unresolved arguments are printed with '-'.`,
		Example: `  vibe-gsea resolve EGFR 7157
  vibe-gsea resolve --taxon 10090 Trp53`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(cmd.Flags(), map[string]string{"idmap.taxon": "taxon"})

			features := make([]feature.Feature, len(args))
			for i, arg := range args {
				if _, err := strconv.ParseUint(arg, 10, 64); err == nil {
					features[i].RegistryID = arg
				} else {
					features[i].Name = arg
				}
			}

			return withApp(func(a *app) error {
				resolved := a.resolver.ResolveAll(cmd.Context(), features, viper.GetInt("parallel.workers"))
				byQuery := make(map[string]feature.Feature, len(resolved))
				for _, f := range resolved {
					byQuery[f.Name] = f
					byQuery[f.RegistryID] = f
				}

				w := bufio.NewWriter(cmd.OutOrStdout())
				for _, arg := range args {
					f, ok := byQuery[arg]
					if !ok {
						a.logger.Warn("unresolved", zap.String("query", arg))
						fmt.Fprintf(w, "%s\t-\t-\n", arg)
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", arg, f.Name, f.RegistryID)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().Int("taxon", 9606, "NCBI taxonomy ID")
	return cmd
}
