// Package main provides the CLI entrypoint for confmig.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/confmig/confmig/internal/cache"
	"github.com/confmig/confmig/internal/config"
	"github.com/confmig/confmig/internal/confluence"
	"github.com/confmig/confmig/internal/export"
	"github.com/confmig/confmig/internal/importer"
	"github.com/confmig/confmig/internal/logger"
	"github.com/confmig/confmig/internal/report"
	"github.com/confmig/confmig/internal/syncer"
)

func main() {
	defer logger.Close()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "confmig",
	Short: "Migrate content between Confluence instances",
	Long: `confmig exports Confluence spaces to a local directory tree, imports
such trees into another space or instance, and synchronizes two live
spaces directly.`,
	SilenceUsage: true,
}

var exportCmd = &cobra.Command{
	Use:   "export <SPACE-KEY>",
	Short: "Export a space to a local directory tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <EXPORT-DIR>",
	Short: "Import an exported tree into a space",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize pages from one live space to another",
	RunE:  runSync,
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare two live spaces by title and version",
	RunE:  runCompare,
}

var listSpacesCmd = &cobra.Command{
	Use:   "list-spaces",
	Short: "List spaces visible to the configured user",
	Args:  cobra.NoArgs,
	RunE:  runListSpaces,
}

var cleanSpaceCmd = &cobra.Command{
	Use:   "clean-space <SPACE-KEY>",
	Short: "Delete every page and folder in a space",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanSpace,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage confmig configuration",
}

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write a sample config.yaml in the current directory",
	Args:  cobra.NoArgs,
	RunE:  runConfigCreate,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and test the connection",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	importSpaceKey   string
	importSpaceName  string
	importCreate     bool
	importConflict   string
	importRemapKey   string
	targetConfigPath string

	syncSourceSpace string
	syncTargetSpace string
	syncMode        string
	syncDryRun      bool
	syncCachePath   string

	cleanDryRun bool
	cleanForce  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	importCmd.Flags().StringVar(&importSpaceKey, "space", "", "target space key (required)")
	importCmd.Flags().StringVar(&importSpaceName, "space-name", "", "display name when creating the space")
	importCmd.Flags().BoolVar(&importCreate, "create-space", false, "create the target space if it does not exist")
	importCmd.Flags().StringVar(&importConflict, "conflict-resolution", "", "skip | overwrite | update_newer | rename")
	importCmd.Flags().StringVar(&importRemapKey, "remap-space-key", "", "rewrite space keys in bodies, format OLD:NEW")
	importCmd.Flags().StringVar(&targetConfigPath, "target-config", "", "config file for the target instance")
	importCmd.MarkFlagRequired("space")

	syncCmd.Flags().StringVar(&syncSourceSpace, "source-space", "", "source space key (required)")
	syncCmd.Flags().StringVar(&syncTargetSpace, "target-space", "", "target space key (required)")
	syncCmd.Flags().StringVar(&syncMode, "mode", "newer_only", "missing_only | newer_only | full")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "plan only, write nothing")
	syncCmd.Flags().StringVar(&syncCachePath, "cache-db", defaultCachePath(), "sync-state database path")
	syncCmd.Flags().StringVar(&targetConfigPath, "target-config", "", "config file for the target instance")
	syncCmd.MarkFlagRequired("source-space")
	syncCmd.MarkFlagRequired("target-space")

	compareCmd.Flags().StringVar(&syncSourceSpace, "source-space", "", "source space key (required)")
	compareCmd.Flags().StringVar(&syncTargetSpace, "target-space", "", "target space key (required)")
	compareCmd.Flags().StringVar(&targetConfigPath, "target-config", "", "config file for the target instance")
	compareCmd.MarkFlagRequired("source-space")
	compareCmd.MarkFlagRequired("target-space")

	cleanSpaceCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "list what would be deleted")
	cleanSpaceCmd.Flags().BoolVar(&cleanForce, "force", false, "skip the safety check")

	configCmd.AddCommand(configCreateCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(exportCmd, importCmd, syncCmd, compareCmd, listSpacesCmd, cleanSpaceCmd, configCmd)
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".confmig-sync.db"
	}
	return filepath.Join(home, ".confmig-sync.db")
}

// setup loads the configuration, applies logging settings, and builds the
// API client for the configured instance.
func setup(path string) (*config.Config, *confluence.Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if verbose || cfg.General.Verbose {
		level = "debug"
	}
	if parsed, err := logger.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	if cfg.Logging.File != "" {
		if err := logger.SetLogFile(cfg.Logging.File); err != nil {
			logger.Warn("%v", err)
		}
	}

	client := newClient(cfg)
	return cfg, client, nil
}

func newClient(cfg *config.Config) *confluence.Client {
	secret := cfg.Confluence.Auth.APIToken
	if secret == "" {
		secret = cfg.Confluence.Auth.Password
	}
	return confluence.New(cfg.Confluence.BaseURL, cfg.Confluence.Auth.Username, secret, confluence.Options{
		MaxAttempts:   cfg.General.Retry.MaxAttempts,
		BackoffFactor: cfg.General.Retry.BackoffFactor,
		RateLimit:     cfg.General.RateLimit,
		Timeout:       time.Duration(cfg.General.TimeoutSec) * time.Second,
	})
}

// targetSetup returns the client for the target instance: the --target-config
// instance when given, otherwise the same instance as the source.
func targetSetup(client *confluence.Client) (*confluence.Client, error) {
	if targetConfigPath == "" {
		return client, nil
	}
	targetCfg, err := config.Load(targetConfigPath)
	if err != nil {
		return nil, fmt.Errorf("target config: %w", err)
	}
	return newClient(targetCfg), nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, client, err := setup(configPath)
	if err != nil {
		return err
	}
	if err := client.TestConnection(); err != nil {
		return err
	}

	summary, tree, err := export.New(client, cfg).ExportSpace(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d pages, %d blog posts, %d attachments to %s (%s)\n",
		summary.Pages, summary.Blogposts, summary.Attachments, tree.Root, summary.TotalSize())
	if len(summary.Errors) > 0 {
		fmt.Printf("%d items failed, see %s\n", len(summary.Errors), tree.SummaryPath("html"))
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, client, err := setup(configPath)
	if err != nil {
		return err
	}
	target, err := targetSetup(client)
	if err != nil {
		return err
	}
	if err := target.TestConnection(); err != nil {
		return err
	}

	opts := importer.Options{
		TargetSpace:    importSpaceKey,
		SpaceName:      importSpaceName,
		CreateSpace:    importCreate,
		ConflictPolicy: importConflict,
	}
	if importRemapKey != "" {
		oldKey, newKey, ok := strings.Cut(importRemapKey, ":")
		if !ok || oldKey == "" || newKey == "" {
			return fmt.Errorf("invalid --remap-space-key %q, expected OLD:NEW", importRemapKey)
		}
		opts.OldSpaceKey, opts.NewSpaceKey = oldKey, newKey
	}

	data, err := export.LoadTree(args[0])
	if err != nil {
		return err
	}
	summary, err := importer.New(target, cfg).ImportTree(data, opts)
	if err != nil {
		return err
	}

	base := strings.TrimRight(args[0], string(os.PathSeparator))
	jsonPath := base + "_import_summary.json"
	htmlPath := base + "_import_summary.html"
	if err := report.WriteJSON(jsonPath, summary); err != nil {
		logger.Warn("%v", err)
	}
	if err := summary.WriteHTML(htmlPath); err != nil {
		logger.Warn("%v", err)
	}

	fmt.Printf("Imported into %s: %d created, %d updated, %d skipped, %d renamed, %d recovered under placeholders\n",
		importSpaceKey, summary.PagesCreated, summary.PagesUpdated, summary.PagesSkipped,
		summary.PagesRenamed, summary.PagesSynthesized)
	if len(summary.Errors) > 0 {
		fmt.Printf("%d items failed, see %s\n", len(summary.Errors), htmlPath)
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, client, err := setup(configPath)
	if err != nil {
		return err
	}
	target, err := targetSetup(client)
	if err != nil {
		return err
	}
	mode, err := syncer.ParseMode(syncMode)
	if err != nil {
		return err
	}

	var db *cache.DB
	if !syncDryRun {
		if db, err = cache.Open(syncCachePath); err != nil {
			logger.Warn("sync cache unavailable, every page will be compared: %v", err)
		} else {
			defer db.Close()
		}
	}

	result, err := syncer.New(client, target, cfg, db).Sync(syncSourceSpace, syncTargetSpace, mode, syncDryRun)
	if err != nil {
		return err
	}
	if syncDryRun {
		fmt.Printf("Would sync %d pages:\n", len(result.Planned))
		for _, title := range result.Planned {
			fmt.Printf("  %s\n", title)
		}
		return nil
	}
	fmt.Printf("Synced %d pages, skipped %d, failed %d\n", result.Synced, result.Skipped, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("%d pages failed to sync", result.Failed)
	}
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, client, err := setup(configPath)
	if err != nil {
		return err
	}
	target, err := targetSetup(client)
	if err != nil {
		return err
	}

	summary, err := syncer.New(client, target, cfg, nil).Compare(syncSourceSpace, syncTargetSpace)
	if err != nil {
		return err
	}

	base := fmt.Sprintf("compare_%s_%s", syncSourceSpace, syncTargetSpace)
	if err := report.WriteJSON(base+".json", summary); err != nil {
		logger.Warn("%v", err)
	}
	if err := summary.WriteHTML(base + ".html"); err != nil {
		logger.Warn("%v", err)
	}

	fmt.Printf("%d pages in sync, %d differences (report: %s.html)\n", summary.InSync, len(summary.Diffs), base)
	for _, d := range summary.Diffs {
		fmt.Printf("  %-20s %s\n", d.Status, d.Title)
	}
	return nil
}

func runListSpaces(cmd *cobra.Command, args []string) error {
	_, client, err := setup(configPath)
	if err != nil {
		return err
	}
	spaces, err := client.ListSpaces()
	if err != nil {
		return err
	}
	fmt.Printf("%-12s %-10s %s\n", "KEY", "TYPE", "NAME")
	for _, s := range spaces {
		fmt.Printf("%-12s %-10s %s\n", s.Key, s.Type, s.Name)
	}
	return nil
}

func runCleanSpace(cmd *cobra.Command, args []string) error {
	_, client, err := setup(configPath)
	if err != nil {
		return err
	}
	spaceKey := args[0]

	pages, err := client.ListContent(spaceKey, "page")
	if err != nil {
		return err
	}

	var folders []confluence.Folder
	if idv2, err := client.GetSpaceIDv2(spaceKey); err == nil {
		if folders, err = client.DiscoverFolders(idv2); err != nil {
			logger.Warn("folder discovery failed: %v", err)
		}
	}

	if cleanDryRun {
		fmt.Printf("Would delete %d pages and %d folders from %s:\n", len(pages), len(folders), spaceKey)
		for _, p := range pages {
			fmt.Printf("  page   %s\n", p.Title)
		}
		for _, f := range folders {
			fmt.Printf("  folder %s\n", f.Title)
		}
		return nil
	}
	if !cleanForce {
		return fmt.Errorf("refusing to delete %d pages from %s: pass --force to confirm (or --dry-run to preview)",
			len(pages), spaceKey)
	}

	failed := 0
	for _, p := range pages {
		if err := client.DeletePage(p.ID); err != nil {
			logger.Error("failed to delete page %q: %v", p.Title, err)
			failed++
		}
	}
	for _, f := range folders {
		if err := client.DeleteFolder(f.ID); err != nil {
			logger.Error("failed to delete folder %q: %v", f.Title, err)
			failed++
		}
	}
	fmt.Printf("Deleted %d pages and %d folders from %s\n", len(pages)-failed, len(folders), spaceKey)
	if failed > 0 {
		return fmt.Errorf("%d items could not be deleted", failed)
	}
	return nil
}

func runConfigCreate(cmd *cobra.Command, args []string) error {
	path := "config.yaml"
	if err := config.WriteSample(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s. Fill in base_url and credentials, then run 'confmig config validate'.\n", path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	_, client, err := setup(configPath)
	if err != nil {
		return err
	}
	if err := client.TestConnection(); err != nil {
		return err
	}
	fmt.Printf("Configuration OK, connected to %s\n", client.BaseURL())
	return nil
}
