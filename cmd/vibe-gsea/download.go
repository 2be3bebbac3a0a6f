package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// Bulk data URLs
const (
	geneInfoBaseURL = "https://ftp.ncbi.nlm.nih.gov/gene/DATA"
	stringBaseURL   = "https://stringdb-downloads.org/download"
	stringVersion   = "v12.0"
)

// geneInfoURL returns the NCBI gene_info file for a taxon. Taxa without a
// per-species file get the combined file for all organisms.
func geneInfoURL(taxon int) string {
	switch taxon {
	case 9606:
		return geneInfoBaseURL + "/GENE_INFO/Mammalia/Homo_sapiens.gene_info.gz"
	case 10090:
		return geneInfoBaseURL + "/GENE_INFO/Mammalia/Mus_musculus.gene_info.gz"
	case 10116:
		return geneInfoBaseURL + "/GENE_INFO/Mammalia/Rattus_norvegicus.gene_info.gz"
	}
	return geneInfoBaseURL + "/gene_info.gz"
}

// stringURLs returns the STRING protein.links and protein.info files for a taxon.
func stringURLs(taxon int) (linksURL, infoURL string) {
	linksURL = fmt.Sprintf("%s/protein.links.%[2]s/%[3]d.protein.links.%[2]s.txt.gz", stringBaseURL, stringVersion, taxon)
	infoURL = fmt.Sprintf("%s/protein.info.%[2]s/%[3]d.protein.info.%[2]s.txt.gz", stringBaseURL, stringVersion, taxon)
	return linksURL, infoURL
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [options]",
		Short: "Download gene_info and STRING interaction files",
		Long: `Download the NCBI gene_info table used for symbol aliases and the STRING
protein.links and protein.info files used to build the interaction cache.

Files that already exist are skipped.`,
		Example: `  # Download human files (default)
  vibe-gsea download

  # Download mouse files and build the interaction cache
  vibe-gsea download --taxon 10090 --build

  # Only the alias table
  vibe-gsea download --gene-info-only --output /data/vibe-gsea`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			taxon := flagInt(cmd, "taxon")
			outputDir := flagString(cmd, "output")
			if outputDir == "" {
				outputDir = cacheDir()
			}
			if outputDir == "" {
				return fmt.Errorf("cannot determine download directory")
			}
			destDir := filepath.Join(outputDir, "downloads", fmt.Sprint(taxon))
			if err := os.MkdirAll(destDir, 0755); err != nil {
				return fmt.Errorf("cannot create directory %s: %w", destDir, err)
			}

			ctx := cmd.Context()
			fmt.Printf("Downloading data for taxon %d...\n", taxon)
			fmt.Printf("Destination: %s\n\n", destDir)

			giURL := geneInfoURL(taxon)
			geneInfoFile := filepath.Join(destDir, filepath.Base(giURL))
			if err := downloadFile(ctx, giURL, geneInfoFile); err != nil {
				return fmt.Errorf("downloading gene info: %w", err)
			}
			if flagBool(cmd, "gene-info-only") {
				printNextSteps(geneInfoFile, "", "")
				return nil
			}

			linksURL, infoURL := stringURLs(taxon)
			linksFile := filepath.Join(destDir, filepath.Base(linksURL))
			infoFile := filepath.Join(destDir, filepath.Base(infoURL))
			if err := downloadFile(ctx, linksURL, linksFile); err != nil {
				return fmt.Errorf("downloading STRING links: %w", err)
			}
			if err := downloadFile(ctx, infoURL, infoFile); err != nil {
				return fmt.Errorf("downloading STRING protein info: %w", err)
			}

			if !flagBool(cmd, "build") {
				printNextSteps(geneInfoFile, linksFile, infoFile)
				return nil
			}
			return withApp(func(a *app) error {
				return buildPPICache(a.logger, a.ppiPath(), linksFile, infoFile, ' ', false)
			})
		},
	}

	cmd.Flags().Int("taxon", 9606, "NCBI taxonomy ID")
	cmd.Flags().StringP("output", "o", "", "Output directory (default: ~/.vibe-gsea/)")
	cmd.Flags().Bool("gene-info-only", false, "Only download the gene_info alias table")
	cmd.Flags().Bool("build", false, "Build the interaction cache after downloading")
	return cmd
}

func printNextSteps(geneInfo, links, info string) {
	fmt.Printf("\nDownload complete!\n")
	fmt.Printf("To use the alias table, run:\n")
	fmt.Printf("  vibe-gsea config set idmap.gene_info %s\n", geneInfo)
	if links != "" {
		fmt.Printf("To build the interaction cache, run:\n")
		fmt.Printf("  vibe-gsea build-ppi-cache %s --info %s\n", links, info)
	}
}

// downloadFile downloads a file from URL to the destination path with progress.
func downloadFile(ctx context.Context, url, destPath string) error {
	if info, err := os.Stat(destPath); err == nil {
		fmt.Printf("  %s already exists (%s), skipping\n", filepath.Base(destPath), formatSize(info.Size()))
		return nil
	}

	fmt.Printf("  Downloading %s...\n", filepath.Base(destPath))

	client := &http.Client{
		Timeout: 30 * time.Minute,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "vibe-gsea/"+version)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	pw := &progressWriter{
		out:       os.Stdout,
		total:     resp.ContentLength,
		lastPrint: time.Now(),
	}
	_, err = io.Copy(f, io.TeeReader(resp.Body, pw))
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("download failed: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}

	fmt.Printf("    Done: %s\n", formatSize(pw.downloaded))
	return nil
}

// progressWriter reports download progress at most once per second.
type progressWriter struct {
	out        io.Writer
	total      int64
	downloaded int64
	lastPrint  time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.downloaded += int64(n)

	if time.Since(pw.lastPrint) > time.Second {
		if pw.total > 0 {
			pct := float64(pw.downloaded) / float64(pw.total) * 100
			fmt.Fprintf(pw.out, "\r    Progress: %s / %s (%.1f%%)  ",
				formatSize(pw.downloaded), formatSize(pw.total), pct)
		} else {
			fmt.Fprintf(pw.out, "\r    Progress: %s  ", formatSize(pw.downloaded))
		}
		pw.lastPrint = time.Now()
	}
	return n, nil
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
