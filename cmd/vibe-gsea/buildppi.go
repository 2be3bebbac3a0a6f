package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vibe-gsea/internal/ppi"
	"github.com/inodb/vibe-gsea/internal/snapshot"
)

func newBuildPPICacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-ppi-cache [options] <links-file>",
		Short: "Build the local interaction cache from a STRING links file",
		Long: `Load a links file into the DuckDB interaction cache used by 'partners'.

The links file has a header line and three columns: gene1, gene2 and a
combined score from 0 to 1000. With --info, the file is a STRING
protein.links file naming proteins by STRING ID, and the matching
protein.info file maps them to gene names.

The cache is rebuilt only when the links file changed since the last build.`,
		Example: `  vibe-gsea build-ppi-cache links.tsv --delim tab
  vibe-gsea build-ppi-cache 9606.protein.links.v12.0.txt.gz --info 9606.protein.info.v12.0.txt.gz`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			delim, err := parseDelim(flagString(cmd, "delim"))
			if err != nil {
				return usageError(cmd, err)
			}
			force := flagBool(cmd, "force")
			info := flagString(cmd, "info")

			return withApp(func(a *app) error {
				path := a.ppiPath()
				if path == "" {
					return fmt.Errorf("no cache directory configured")
				}
				return buildPPICache(a.logger, path, args[0], info, delim, force)
			})
		},
	}
	cmd.Flags().String("delim", "space", "Column delimiter of the links file: space, tab or a single character")
	cmd.Flags().String("info", "", "STRING protein.info file mapping protein IDs to names")
	cmd.Flags().Bool("force", false, "Rebuild even if the links file is unchanged")
	return cmd
}

func parseDelim(s string) (rune, error) {
	switch s {
	case "space", " ":
		return ' ', nil
	case "tab", `\t`, "\t":
		return '\t', nil
	}
	if r := []rune(s); len(r) == 1 {
		return r[0], nil
	}
	return 0, fmt.Errorf("invalid delimiter %q", s)
}

func buildPPICache(logger *zap.Logger, dbPath, links, info string, delim rune, force bool) error {
	fp, err := snapshot.StatFile(links)
	if err != nil {
		return fmt.Errorf("stat links file: %w", err)
	}

	store, err := ppi.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open interaction cache: %w", err)
	}
	defer store.Close()

	if !force && store.Loaded() && store.SourceMatches(fp) {
		fmt.Fprintf(os.Stderr, "Interaction cache %s is up to date\n", dbPath)
		return nil
	}

	start := time.Now()
	fmt.Fprintf(os.Stderr, "Loading %s into %s...\n", links, dbPath)
	if info != "" {
		err = store.LoadProteinLinks(links, info)
	} else {
		err = store.Load(links, delim)
	}
	if err != nil {
		return err
	}
	if err := store.SetSource(fp); err != nil {
		return err
	}

	n, err := store.Count()
	if err != nil {
		return err
	}
	logger.Info("built interaction cache",
		zap.String("path", dbPath), zap.Int64("rows", n), zap.Duration("elapsed", time.Since(start)))
	fmt.Fprintf(os.Stderr, "Loaded %d interactions in %s\n", n, time.Since(start).Round(time.Millisecond))
	return nil
}
