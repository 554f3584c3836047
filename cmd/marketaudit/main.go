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

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/marketaudit/internal/audit"
	"github.com/TobiSchelling/marketaudit/internal/collect"
	"github.com/TobiSchelling/marketaudit/internal/config"
	"github.com/TobiSchelling/marketaudit/internal/database"
	"github.com/TobiSchelling/marketaudit/internal/llm"
	"github.com/TobiSchelling/marketaudit/internal/pipeline"
	"github.com/TobiSchelling/marketaudit/internal/render"
	"github.com/TobiSchelling/marketaudit/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "marketaudit",
	Short:   "Multi-pass market audits for games",
	Long:    "marketaudit drafts a market audit from product metrics, reviews it with parallel specialist passes and synthesizes a final document.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return setupLogging("")
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return eris.Wrap(err, "loading config")
		}
		return setupLogging(cfg.Logging.Level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(productsCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging installs the global zap logger. Logs go to stderr so audit output
// on stdout stays clean.
func setupLogging(level string) error {
	if level == "" {
		level = "info"
	}
	if verbose {
		level = "debug"
	}
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return eris.Wrapf(err, "invalid logging level %q", level)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	zcfg.Encoding = "console"
	zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	zcfg.DisableStacktrace = true
	logger, err := zcfg.Build()
	if err != nil {
		return eris.Wrap(err, "building logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("marketaudit", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/marketaudit/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return eris.Wrap(err, "creating config directory")
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return eris.Wrap(err, "writing config")
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure model providers, news feeds and API keys.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and provider status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return eris.Wrap(err, "getting stats")
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Products:")
		fmt.Printf("  Total: %d\n", stats.Products)
		fmt.Printf("  Comparisons: %d\n", stats.Comparisons)
		fmt.Printf("  Auxiliary analyses: %d\n", stats.AuxiliaryAnalyses)
		fmt.Println("\nData quality:")
		fmt.Printf("  Flags: %d\n", stats.QualityFlags)
		fmt.Printf("  Serious: %d\n", stats.SeriousFlags)
		fmt.Println("\nProviders:")
		for i, p := range cfg.Providers {
			role := "ensemble"
			if i == 0 {
				role = "primary"
			}
			fmt.Printf("  %s (%s, %s) %s\n", p.ID, p.Kind, p.Model, role)
		}
		return nil
	},
}

// --- import command ---

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import product inputs from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := readInputs(args[0])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		slug, err := db.UpsertInputs(*inputs)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %s as %s (%d comparisons)\n", inputs.Subject.Name, slug, len(inputs.Comparisons))
		return nil
	},
}

// readInputs parses a product file. JSON is accepted as a subset of YAML.
func readInputs(path string) (*audit.Inputs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reading %s", path)
	}
	var inputs audit.Inputs
	if err := yaml.Unmarshal(data, &inputs); err != nil {
		return nil, eris.Wrapf(err, "parsing %s", path)
	}
	if err := inputs.Validate(); err != nil {
		return nil, eris.Wrapf(err, "invalid inputs in %s", path)
	}
	return &inputs, nil
}

// --- products command ---

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List stored products",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListProducts()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No products stored. Add one with: marketaudit import product.yaml")
			return nil
		}

		for _, p := range items {
			flag := ""
			if p.SeriousFlags > 0 {
				flag = fmt.Sprintf("  [%d data-quality flag(s)]", p.SeriousFlags)
			}
			fmt.Printf("  %-24s %s, %d comparisons, updated %s%s\n", p.Slug, p.Name, p.Comparisons, p.UpdatedAt, flag)
		}
		return nil
	},
}

// --- collect command ---

var collectCmd = &cobra.Command{
	Use:   "collect <slug>",
	Short: "Refresh a product's storefront description and market news",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := cfg.CollectOptions()
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("Collecting sources for %s...\n", args[0])
		result, err := collect.NewCollector(db, opts).Collect(ctx, args[0])
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no product %q; run 'marketaudit products' to list them", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Description updated: %t\n", result.DescriptionUpdated)
		fmt.Printf("  Headlines: %d\n", result.Headlines)
		for _, f := range result.Flags {
			fmt.Printf("  Flag: %s (%s) %s\n", f.Source, f.Severity, f.Note)
		}
		return nil
	},
}

// --- audit command ---

var (
	inputPath string
	format    string
	outPath   string
	dryRun    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit [slug]",
	Short: "Run the audit pipeline for a stored product or an inputs file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outFormat, err := render.ParseFormat(format)
		if err != nil {
			return err
		}
		if outFormat == render.FormatPDF && outPath == "" {
			return fmt.Errorf("pdf output needs --out")
		}

		inputs, err := loadAuditInputs(args)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		pipe, err := buildPipeline(ctx)
		if err != nil {
			return err
		}

		if dryRun {
			printPlan(pipe.Plan(*inputs))
			return nil
		}

		document, rec, err := pipe.Run(ctx, *inputs)
		if err != nil {
			return err
		}

		out, err := render.Render(outFormat, "Market audit: "+inputs.Subject.Name, document, rec)
		if err != nil {
			return err
		}
		if outPath == "" {
			_, err = os.Stdout.Write(out)
			return err
		}
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			return eris.Wrapf(err, "writing %s", outPath)
		}

		fallbacks := 0
		for _, r := range rec.Stages {
			if !r.OK() {
				fallbacks++
			}
		}
		fmt.Printf("Wrote %s (%s)\n", outPath, humanize.Bytes(uint64(len(out))))
		fmt.Printf("  Stages: %d, fallbacks: %d\n", len(rec.Stages), fallbacks)
		for _, w := range rec.Warnings {
			fmt.Printf("  Warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Read inputs from a YAML or JSON file instead of the store")
	auditCmd.Flags().StringVarP(&format, "format", "f", render.FormatMarkdown, "Output format: "+strings.Join(render.Formats, ", "))
	auditCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write output to a file instead of stdout")
	auditCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without calling any provider")
}

func loadAuditInputs(args []string) (*audit.Inputs, error) {
	if inputPath != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("give either a slug or --input, not both")
		}
		return readInputs(inputPath)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("a product slug or --input is required")
	}

	db, err := openDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	inputs, err := db.LoadInputs(args[0])
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("no product %q; run 'marketaudit products' to list them", args[0])
	}
	return inputs, err
}

func printPlan(states []pipeline.PlannedState) {
	fmt.Println("Dry run, no provider will be called.")
	for i, s := range states {
		fmt.Printf("\nState %d/%d: %s\n", i+1, len(states), s.State)
		for _, name := range s.Stages {
			fmt.Printf("  - %s\n", name)
		}
		if s.Note != "" {
			fmt.Printf("  %s\n", s.Note)
		}
	}
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := buildPipeline(cmd.Context())
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, pipe, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on (overrides server.port)")
}

func buildPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	opts, err := cfg.PipelineOptions()
	if err != nil {
		return nil, err
	}
	reg, err := llm.Build(ctx, cfg.ProviderSpecs())
	if err != nil {
		return nil, err
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no configured provider; check providers and API key variables in the config")
	}
	return pipeline.New(reg, opts), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "creating data directory")
	}
	return database.Open(cfg.DBPath())
}
