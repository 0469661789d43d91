package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rulelayer/internal/config"
	"rulelayer/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	legacy     bool
	timeout    time.Duration

	// resolve flags
	appID    string
	category string
	title    string
	subtitle string
	locale   string
	orgID    string

	// preview flags
	verticalID string
	marketID   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rulectl",
	Short: "rulectl - resolve and administer layered ASO rule overrides",
	Long: `rulectl resolves the effective ruleset for an app by merging the
code-defined base rules with vertical, market and client overrides
from the configured store.

Precedence, lowest to highest: base, vertical, market, client.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		if err := logging.Initialize(loaded.LoggingOptions()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		logging.Boot("rulectl %s: store=%s cache=%d/%s", cmd.Name(), cfg.Store.Driver, cfg.Cache.Capacity, cfg.GetCacheTTL())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the effective ruleset for an app",
	Long: `Detects the app's vertical and market from its metadata and locale,
then merges code-defined and stored overrides.

Example:
  rulectl resolve --app-id 123 --category Games --locale en-US --org acme`,
	RunE: runResolve,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Resolve an explicit vertical and market without detection",
	Long: `Example:
  rulectl preview --vertical games --market de --org acme`,
	RunE: runPreview,
}

var importCmd = &cobra.Command{
	Use:   "import [seed.yaml]",
	Short: "Import a YAML seed file into the override store",
	Long: `Each layer in the seed replaces every stored row for that layer.
Layers not named in the seed are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-import seed files whenever they change",
	Long: `Imports every seed file in the configured seed directory, then watches
it and re-imports a file once it has been quiet for the debounce window.`,
	RunE: runWatch,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "cache-stats",
	Short: "Warm the cache with every registered combination and report its stats",
	RunE:  runCacheStats,
}

var schemaCmd = &cobra.Command{
	Use:   "schema [driver]",
	Short: "Print the override table DDL for a driver",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSchema,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".rulelayer/config.yaml", "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&legacy, "legacy", false, "Print the flat legacy view instead of the full ruleset")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	resolveCmd.Flags().StringVar(&appID, "app-id", "", "App id (required)")
	resolveCmd.Flags().StringVar(&category, "category", "", "Store category")
	resolveCmd.Flags().StringVar(&title, "title", "", "App title")
	resolveCmd.Flags().StringVar(&subtitle, "subtitle", "", "App subtitle")
	resolveCmd.Flags().StringVar(&locale, "locale", "en-US", "Store locale")
	resolveCmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	_ = resolveCmd.MarkFlagRequired("app-id")

	previewCmd.Flags().StringVar(&verticalID, "vertical", "", "Vertical id (empty for base)")
	previewCmd.Flags().StringVar(&marketID, "market", "", "Market id")
	previewCmd.Flags().StringVar(&orgID, "org", "", "Organization id")

	cacheStatsCmd.Flags().StringVar(&orgID, "org", "", "Organization id")

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
