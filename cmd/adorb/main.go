package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adorb/internal/config"
	"adorb/internal/embedding"
	"adorb/internal/logging"
	"adorb/internal/marketplace"
	"adorb/internal/orb"
	"adorb/internal/pipeline"
	"adorb/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string
	enableRAG  bool

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "adorb",
	Short: "adorb - retrieval-augmented ad performance prediction",
	Long: `adorb predicts how an ad creative will perform before it is published.

Every analyzed, planned or published ad lives as an "orb" with a strict
lifecycle (suggested -> draft -> published -> observed). Observed orbs become
the retrieval corpus: a new creative is compared against them with hybrid
vector + structured similarity, its score is estimated from the closest
matches, and contrastive trait analysis explains which creative choices move
the number. A safety wrapper guarantees a prediction always comes back.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath != "" {
			cfg.Store.DatabasePath = dbPath
		}
		if enableRAG {
			cfg.Features.RetrievalPrediction = true
			cfg.Features.ContrastiveAnalysis = true
			cfg.Features.MarketplaceHints = true
		}
		if verbose {
			logging.EnableDebug()
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// ingestCmd loads ad entries from a JSON file into the orb store
var ingestCmd = &cobra.Command{
	Use:   "ingest [file.json]",
	Short: "Ingest historical ads into the orb store",
	Long: `Reads a JSON array of ad entries, converts each to an orb, derives
canonical texts and embeddings, and persists them. Entries that carry
results become observed orbs and join the retrieval corpus.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

// predictCmd predicts the success score for one ad
var predictCmd = &cobra.Command{
	Use:   "predict [ad.json]",
	Short: "Predict the success score for an ad creative",
	Long: `Reads one ad entry from JSON, runs the full prediction pipeline and
prints the result with its evidence trail: score, confidence, method,
neighbors, trait effects and explanation.`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

// gapsCmd reports data gaps for an ad
var gapsCmd = &cobra.Command{
	Use:   "gaps [ad.json]",
	Short: "Detect data gaps affecting a prediction",
	Long: `Runs retrieval and gap detection for one ad and prints the detected
coverage gaps. With --datasets, also matches them against a marketplace
catalog and prints suggested datasets.`,
	Args: cobra.ExactArgs(1),
	RunE: runGaps,
}

// orbsCmd lists stored orbs
var orbsCmd = &cobra.Command{
	Use:   "orbs",
	Short: "List stored orbs",
	RunE:  runOrbs,
}

var (
	datasetsPath string
	orbsPlatform string
	outputJSON   bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".adorb/config.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override database path")
	rootCmd.PersistentFlags().BoolVar(&enableRAG, "rag", false, "Enable retrieval prediction, contrastive analysis and marketplace hints")

	gapsCmd.Flags().StringVar(&datasetsPath, "datasets", "", "Marketplace dataset catalog (JSON)")
	predictCmd.Flags().StringVar(&datasetsPath, "datasets", "", "Marketplace dataset catalog (JSON)")
	predictCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the full result as JSON")
	orbsCmd.Flags().StringVar(&orbsPlatform, "platform", "", "Filter by platform")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(orbsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openStore builds the configured store backend.
func openStore() (store.OrbStore, func(), error) {
	if cfg.Store.Backend == "memory" {
		return store.NewMemoryStore(), func() {}, nil
	}
	s, err := store.NewSQLiteStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func buildPipeline(s store.OrbStore) (*pipeline.Pipeline, *embedding.Generator, error) {
	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logger.Warn("embedding provider unavailable, using deterministic fallback", zap.Error(err))
		engine = nil
	}
	gen := embedding.NewGenerator(engine, cfg.Embedding)
	p := pipeline.New(cfg, s, gen, nil)

	if datasetsPath != "" {
		datasets, err := loadDatasets(datasetsPath)
		if err != nil {
			return nil, nil, err
		}
		p.RegisterDatasets(datasets)
	}
	return p, gen, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	s, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	var entries []orb.AdEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}

	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		logger.Warn("embedding provider unavailable, using deterministic fallback", zap.Error(err))
		engine = nil
	}
	gen := embedding.NewGenerator(engine, cfg.Embedding)

	ctx := cmd.Context()
	start := time.Now()
	saved := 0
	for i := range entries {
		o, err := entries[i].ToOrb()
		if err != nil {
			logger.Warn("skipping entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		if err := gen.EnsureDerived(ctx, o); err != nil {
			logger.Warn("embedding failed", zap.String("orb", o.ID), zap.Error(err))
		}
		if err := s.Save(ctx, o); err != nil {
			return fmt.Errorf("save orb %s: %w", o.ID, err)
		}
		saved++
	}

	logger.Info("ingest complete",
		zap.Int("saved", saved),
		zap.Int("total", len(entries)),
		zap.Duration("took", time.Since(start)))
	fmt.Printf("Ingested %d/%d ads into %s\n", saved, len(entries), cfg.Store.DatabasePath)
	return nil
}

func runPredict(cmd *cobra.Command, args []string) error {
	s, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	entry, err := loadAd(args[0])
	if err != nil {
		return err
	}

	p, gen, err := buildPipeline(s)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ad, err := gen.FlattenEntry(ctx, entry)
	if err != nil {
		return fmt.Errorf("flatten ad: %w", err)
	}

	result := p.SafePredict(ctx, ad)

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Score:      %.1f / 100\n", result.Score)
	fmt.Printf("Confidence: %.0f / 100\n", result.Confidence)
	fmt.Printf("Method:     %s", result.Method)
	if result.FallbackReason != "" {
		fmt.Printf(" (%s)", result.FallbackReason)
	}
	fmt.Printf("\nNeighbors:  %d (avg similarity %.0f%%)\n", result.NeighborCount, result.AvgSimilarity*100)

	if result.Explanation != nil {
		e := result.Explanation
		fmt.Printf("\n%s\n", e.Summary)
		fmt.Printf("\nEvidence:   %s\n", e.NeighborEvidence)
		fmt.Printf("Traits:     %s\n", e.ContrastiveInsight)
		fmt.Printf("Confidence: %s\n", e.ConfidenceNote)
		if e.DataSuggestions != "" {
			fmt.Printf("Data:       %s\n", e.DataSuggestions)
		}
		for _, r := range e.Recommendations {
			fmt.Printf("  - %s %s (impact %.0f, %s)\n", r.Action, r.Trait, r.Impact, r.Evidence)
		}
	}
	return nil
}

func runGaps(cmd *cobra.Command, args []string) error {
	s, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	entry, err := loadAd(args[0])
	if err != nil {
		return err
	}

	// Gap detection needs the retrieval evidence, so run the full pipeline
	// with marketplace hints forced on.
	cfg.Features.RetrievalPrediction = true
	cfg.Features.MarketplaceHints = true

	p, gen, err := buildPipeline(s)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ad, err := gen.FlattenEntry(ctx, entry)
	if err != nil {
		return fmt.Errorf("flatten ad: %w", err)
	}

	result := p.SafePredict(ctx, ad)

	if len(result.Gaps) == 0 {
		fmt.Println("No data gaps detected.")
		return nil
	}

	fmt.Printf("Detected %d data gaps:\n", len(result.Gaps))
	for _, g := range result.Gaps {
		fmt.Printf("  [%s] %s/%s: %s (have %d, need %d, impact +%.0f confidence)\n",
			g.Severity, g.Dimension, g.Value, g.Reason,
			g.CurrentSamples, g.RequiredSamples, g.EstimatedConfidenceImpact)
	}

	if len(result.Matches) > 0 {
		fmt.Printf("\nSuggested datasets:\n")
		for _, m := range result.Matches {
			fmt.Printf("  %s (match %.0f, coverage %.0f, est. gain +%.0f confidence)\n",
				m.Dataset.Name, m.MatchScore, m.CoverageScore, m.EstimatedConfidenceGain)
		}
		fmt.Printf("Combined estimated gain: +%.0f confidence points\n",
			marketplace.TotalEstimatedGain(result.Matches))
	}
	return nil
}

func runOrbs(cmd *cobra.Command, args []string) error {
	s, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	var orbs []*orb.Orb
	if orbsPlatform != "" {
		orbs, err = s.ListByPlatform(ctx, orbsPlatform)
	} else {
		orbs, err = s.List(ctx)
	}
	if err != nil {
		return err
	}

	if len(orbs) == 0 {
		fmt.Println("No orbs stored.")
		return nil
	}

	for _, o := range orbs {
		score := "-"
		if o.Results != nil {
			score = fmt.Sprintf("%.0f", o.Results.SuccessScore)
		}
		fmt.Printf("%s  %-10s  %-10s  score=%s  created=%s\n",
			o.ID, o.State, o.Platform(), score, o.CreatedAt.Format("2006-01-02"))
	}
	fmt.Printf("%d orbs\n", len(orbs))
	return nil
}

// loadAd reads one ad entry from JSON.
func loadAd(path string) (*orb.AdEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ad: %w", err)
	}
	var entry orb.AdEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse ad: %w", err)
	}
	return &entry, nil
}

// loadDatasets reads a marketplace catalog from JSON.
func loadDatasets(path string) ([]marketplace.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datasets: %w", err)
	}
	var datasets []marketplace.Dataset
	if err := json.Unmarshal(data, &datasets); err != nil {
		return nil, fmt.Errorf("parse datasets: %w", err)
	}
	return datasets, nil
}
