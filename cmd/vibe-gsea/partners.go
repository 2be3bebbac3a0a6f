package main

import (
	"github.com/spf13/cobra"

	"github.com/inodb/vibe-gsea/internal/output"
)

func newPartnersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partners [options] <gene>...",
		Short: "List protein interaction partners of genes",
		Long: `Look up interaction partners in the local interaction cache, built with
build-ppi-cache, or in the live STRING API when no cache exists.`,
		Example: `  vibe-gsea partners EGFR
  vibe-gsea partners --min-score 0.9 TP53 MDM2`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(cmd.Flags(), map[string]string{
				"ppi.min_score": "min-score",
				"ppi.taxon":     "taxon",
			})
			return withApp(func(a *app) error {
				client, err := a.interactions()
				if err != nil {
					return err
				}
				got := client.PartnersBatch(cmd.Context(), args, a.workers)

				tw := output.NewTabWriter(cmd.OutOrStdout())
				seen := make(map[string]bool)
				for _, gene := range args {
					if seen[gene] {
						continue
					}
					seen[gene] = true
					if err := tw.WritePartners(gene, got[gene]); err != nil {
						return err
					}
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().Float64("min-score", 0.4, "Minimum confidence score in [0,1]")
	cmd.Flags().Int("taxon", 9606, "NCBI taxonomy ID for live queries")
	return cmd
}
