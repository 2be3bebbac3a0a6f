// Package main provides the vibe-gsea command-line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitUsage   = 2
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errUsage marks errors caused by bad arguments rather than failed work.
var errUsage = errors.New("usage error")

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errUsage):
		return ExitUsage
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "vibe-gsea",
		Short: "Gene set enrichment against KEGG, WikiPathways and Reactome",
		Long: `vibe-gsea resolves gene identifiers, looks up pathway membership and
protein interaction partners, and tests pathways for enrichment at the
extremes of a ranked gene list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cfgFile)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: ~/.vibe-gsea.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	flags.String("cache-dir", "", "Directory for snapshots and the interaction cache (default: ~/.vibe-gsea)")
	flags.String("metrics-file", "", "Write fetch metrics in Prometheus text format to this file on exit")
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("cache_dir", flags.Lookup("cache-dir"))
	viper.BindPFlag("metrics_file", flags.Lookup("metrics-file"))

	cmd.AddCommand(
		newEnrichCmd(),
		newPathwaysCmd(),
		newResolveCmd(),
		newPartnersCmd(),
		newBuildPPICacheCmd(),
		newDownloadCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError(c, err)
	})
	return cmd
}

// usageError prints the command's usage and wraps err as a usage error.
func usageError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
	cmd.Usage()
	return fmt.Errorf("%w: %v", errUsage, err)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vibe-gsea version %s (%s) built %s\n", version, commit, date)
		},
	}
}

func setDefaults() {
	viper.SetDefault("fetch.max_attempts", 5)
	viper.SetDefault("fetch.requests_per_second", 0)
	viper.SetDefault("parallel.workers", 8)
	viper.SetDefault("idmap.taxon", 9606)
	viper.SetDefault("idmap.gene_info", "")
	viper.SetDefault("pathway.backend", "kegg")
	viper.SetDefault("pathway.refresh", false)
	viper.SetDefault("pathway.organism", "hsa")
	viper.SetDefault("pathway.species", "Homo sapiens")
	viper.SetDefault("ppi.min_score", 0.4)
	viper.SetDefault("ppi.taxon", 9606)
	viper.SetDefault("enrich.seed", 0)
	viper.SetDefault("enrich.permutations", 1000)
	viper.SetDefault("enrich.step_weight", 1.0)
}

// initConfig reads the config file and environment. A missing default
// config file is not an error.
func initConfig(cfgFile string) error {
	setDefaults()
	viper.SetEnvPrefix("VIBE_GSEA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	viper.AddConfigPath(home)
	viper.SetConfigName(".vibe-gsea")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// cacheDir returns the configured cache directory, defaulting to ~/.vibe-gsea.
func cacheDir() string {
	if dir := viper.GetString("cache_dir"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vibe-gsea")
}

// newLogger builds a console logger on stderr. Verbose enables debug output.
func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
