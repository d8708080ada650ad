// Package main provides the taxon CLI: embed a document corpus, cluster
// it, and emit a structured categorization report.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/taxon/internal/config"
	dbgorm "github.com/thebtf/taxon/internal/db/gorm"
	"github.com/thebtf/taxon/internal/embedding"
	"github.com/thebtf/taxon/internal/index"
	"github.com/thebtf/taxon/internal/manifold"
	"github.com/thebtf/taxon/internal/pipeline"
	"github.com/thebtf/taxon/internal/profile"
	"github.com/thebtf/taxon/internal/search"
	"github.com/thebtf/taxon/internal/vector/sqlitevec"
	"github.com/thebtf/taxon/internal/watcher"
	"github.com/thebtf/taxon/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

type options struct {
	configPath string
	input      string
	output     string
	dbPath     string
	force      bool
	watch      bool
	similar    string
	topK       int
	listRuns   int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Config file (default: ~/.taxon/config.yaml)")
	flag.StringVar(&opts.input, "input", "-", "Documents JSON file, or - for stdin")
	flag.StringVar(&opts.output, "output", "-", "Result JSON file, or - for stdout")
	flag.StringVar(&opts.dbPath, "db", "", "Vector store path (default: ~/.taxon/vectors.db)")
	flag.BoolVar(&opts.force, "force-reindex", false, "Discard persisted vectors and re-embed everything")
	flag.BoolVar(&opts.watch, "watch", false, "Keep running and re-cluster when the input file changes")
	flag.StringVar(&opts.similar, "similar", "", "Find indexed documents similar to the given text and exit")
	flag.IntVar(&opts.topK, "top", search.DefaultLimit, "Number of matches for -similar")
	flag.IntVar(&opts.listRuns, "list-runs", 0, "Print the N most recent runs and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("taxon", Version)
		return
	}

	// Result goes to stdout, so log to stderr.
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		log.Fatal().Err(err).Msg("taxon failed")
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	if opts.listRuns > 0 {
		return printRunHistory(ctx, opts.listRuns)
	}

	embedder, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return err
	}
	defer embedder.Close()
	log.Info().
		Str("model", embedder.ModelVersion()).
		Str("device", embedder.Device()).
		Msg("Embedder ready")

	dbPath := opts.dbPath
	if dbPath == "" {
		if err := config.EnsureDataDir(); err != nil {
			return err
		}
		dbPath = config.DBPath()
	}
	store, err := sqlitevec.Open(dbPath, embedder.ModelVersion())
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.similar != "" {
		return printSimilar(ctx, store, embedder, opts.similar, opts.topK)
	}

	// A store written by a different model cannot be mixed with the
	// current one; rebuild it rather than cluster garbage.
	force := opts.force
	if rebuild, reason := store.NeedsRebuild(ctx); rebuild && strings.HasPrefix(reason, "model_mismatch") {
		log.Warn().Str("reason", reason).Msg("Vector store is stale, forcing reindex")
		force = true
	}

	p, err := pipeline.New(store, embedder, pipelineOptions(cfg))
	if err != nil {
		return err
	}

	var mu sync.Mutex
	execute := func(forceReindex bool) error {
		mu.Lock()
		defer mu.Unlock()

		docs, err := readDocuments(opts.input)
		if err != nil {
			return err
		}
		log.Info().Int("documents", len(docs)).Msg("Loaded corpus")

		result, err := p.Run(ctx, docs, forceReindex)
		if err != nil {
			return err
		}
		saveRunHistory(ctx, result, len(docs))
		return writeResult(opts.output, result)
	}

	if err := execute(force); err != nil {
		return err
	}

	if !opts.watch {
		return nil
	}
	if opts.input == "-" {
		return fmt.Errorf("-watch requires -input to be a file")
	}

	w, err := watcher.New(opts.input, func() {
		if err := execute(false); err != nil {
			log.Error().Err(err).Msg("Re-run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	log.Info().Str("path", opts.input).Msg("Watching corpus for changes")
	<-ctx.Done()
	return nil
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Index: index.Options{
			BatchSize: cfg.Embedding.BatchSize,
			MaxTokens: cfg.Embedding.MaxTokens,
		},
		Reduce: manifold.Params{
			NNeighbors:  cfg.Reduce.NNeighbors,
			NComponents: cfg.Reduce.NComponents,
			Metric:      cfg.Reduce.Metric,
			NEpochs:     cfg.Reduce.NEpochs,
			Seed:        cfg.Reduce.Seed,
		},
		MinClusterSize: cfg.Cluster.MinClusterSize,
		MinSamples:     cfg.Cluster.MinSamples,
		Profile: profile.Options{
			TopKeywords:   cfg.Profile.TopKeywords,
			TopMetadata:   cfg.Profile.TopMetadata,
			Exemplars:     cfg.Profile.Exemplars,
			MinWordLength: cfg.Profile.MinWordLength,
		},
		Redact: cfg.Privacy.Redact,
	}
}

func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderHash:
		return embedding.NewHash(cfg.Dimensions), nil
	case config.ProviderOllama, "":
		return embedding.NewOllama(ctx, embedding.OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// openRunHistory opens the run history database in the data directory.
func openRunHistory() (*dbgorm.Store, error) {
	if err := config.EnsureDataDir(); err != nil {
		return nil, err
	}
	return dbgorm.NewStore(dbgorm.Config{Path: config.HistoryPath()})
}

// saveRunHistory persists the result for later comparison. History is
// best-effort: a failure is logged, never fatal.
func saveRunHistory(ctx context.Context, result *models.AnalysisResult, documentCount int) {
	store, err := openRunHistory()
	if err != nil {
		log.Warn().Err(err).Msg("Run history unavailable")
		return
	}
	defer store.Close()

	if _, err := dbgorm.NewRunStore(store).SaveResult(ctx, result, documentCount); err != nil {
		log.Warn().Err(err).Msg("Failed to save run history")
		return
	}
	log.Debug().Str("runId", result.RunID).Msg("Run saved to history")
}

func printRunHistory(ctx context.Context, limit int) error {
	store, err := openRunHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := dbgorm.NewRunStore(store).ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	return printJSON(runs)
}

func printSimilar(ctx context.Context, store *sqlitevec.Client, embedder embedding.Embedder, query string, limit int) error {
	matches, err := search.NewManager(store, embedder).Similar(ctx, query, limit)
	if err != nil {
		return err
	}
	return printJSON(matches)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}

func readDocuments(path string) ([]models.Document, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var docs []models.Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return docs, nil
}

func writeResult(path string, result *models.AnalysisResult) error {
	data, err := result.JSON()
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	log.Info().Str("path", path).Msg("Result written")
	return nil
}
