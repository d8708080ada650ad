// Package pipeline runs the full categorization sequence: embed and
// persist documents, project the vectors down, density-cluster the
// projection, then characterize and score the discovered clusters.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/taxon/internal/cluster"
	"github.com/thebtf/taxon/internal/embedding"
	"github.com/thebtf/taxon/internal/index"
	"github.com/thebtf/taxon/internal/manifold"
	"github.com/thebtf/taxon/internal/privacy"
	"github.com/thebtf/taxon/internal/profile"
	"github.com/thebtf/taxon/internal/vector/sqlitevec"
	"github.com/thebtf/taxon/pkg/models"
)

const meterName = "github.com/thebtf/taxon/internal/pipeline"

// Options assemble the per-stage knobs of a run.
type Options struct {
	Index          index.Options
	Reduce         manifold.Params
	MinClusterSize int
	MinSamples     int
	Profile        profile.Options

	// Redact scrubs personal and secret material from document text
	// before it is embedded or stored.
	Redact bool
}

// Pipeline wires the stages together over a shared vector store. Safe
// to reuse across runs; the store carries state between them.
type Pipeline struct {
	store    *sqlitevec.Client
	embedder embedding.Embedder
	indexer  *index.Indexer
	analyzer *profile.Analyzer
	opts     Options

	docsIndexed metric.Int64Counter
	clusters    metric.Int64Counter
	noiseDocs   metric.Int64Counter
}

// New builds a pipeline over the given store and embedder.
func New(store *sqlitevec.Client, embedder embedding.Embedder, opts Options) (*Pipeline, error) {
	indexer, err := index.New(store, embedder, opts.Index)
	if err != nil {
		return nil, fmt.Errorf("create indexer: %w", err)
	}

	meter := otel.Meter(meterName)
	docsIndexed, err := meter.Int64Counter("taxon.documents.indexed",
		metric.WithDescription("Documents embedded and persisted"))
	if err != nil {
		return nil, fmt.Errorf("create metric: %w", err)
	}
	clusters, err := meter.Int64Counter("taxon.clusters.discovered",
		metric.WithDescription("Clusters discovered per run"))
	if err != nil {
		return nil, fmt.Errorf("create metric: %w", err)
	}
	noiseDocs, err := meter.Int64Counter("taxon.documents.noise",
		metric.WithDescription("Documents labeled as noise per run"))
	if err != nil {
		return nil, fmt.Errorf("create metric: %w", err)
	}

	return &Pipeline{
		store:       store,
		embedder:    embedder,
		indexer:     indexer,
		analyzer:    profile.New(opts.Profile),
		opts:        opts,
		docsIndexed: docsIndexed,
		clusters:    clusters,
		noiseDocs:   noiseDocs,
	}, nil
}

// Run executes the full sequence over docs and returns the structured
// result. forceReindex discards persisted vectors first; otherwise
// already-indexed documents are not re-embedded.
func (p *Pipeline) Run(ctx context.Context, docs []models.Document, forceReindex bool) (*models.AnalysisResult, error) {
	start := time.Now()
	docs = p.scrub(docs)

	count, err := p.indexer.Index(ctx, docs, forceReindex)
	if err != nil {
		return nil, fmt.Errorf("index stage: %w", err)
	}
	p.docsIndexed.Add(ctx, int64(count))

	records, err := p.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	vectors := make([][]float32, len(records))
	stored := make([]models.Document, len(records))
	for i, rec := range records {
		vectors[i] = rec.Vector
		stored[i] = models.Document{ID: rec.DocID, Text: rec.Text, Metadata: rec.Metadata}
	}

	coords, err := manifold.Reduce(vectors, p.opts.Reduce)
	if err != nil {
		return nil, fmt.Errorf("reduce stage: %w", err)
	}

	labels := cluster.Cluster(coords, p.opts.MinClusterSize, p.opts.MinSamples)

	assignments := make([]models.ClusterAssignment, len(records))
	for i, rec := range records {
		assignments[i] = models.ClusterAssignment{DocumentID: rec.DocID, Label: labels[i]}
	}

	profiles, err := p.analyzer.Analyze(assignments, stored)
	if err != nil {
		return nil, fmt.Errorf("profile stage: %w", err)
	}

	result := models.NewAnalysisResult(uuid.NewString(), p.runParams(len(records)))
	result.Profiles = profiles
	result.Quality = p.quality(coords, labels)

	p.clusters.Add(ctx, int64(result.Quality.ClusterCount))
	p.noiseDocs.Add(ctx, int64(result.Quality.NoiseCount))

	log.Info().
		Str("runId", result.RunID).
		Int("documents", len(records)).
		Int("clusters", result.Quality.ClusterCount).
		Int("noise", result.Quality.NoiseCount).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline run complete")
	return result, nil
}

// Assignments runs the embedding, reduction and clustering stages only,
// returning the per-document labels without profiling. Useful for
// reproducibility checks that compare two runs pairwise.
func (p *Pipeline) Assignments(ctx context.Context, docs []models.Document, forceReindex bool) ([]models.ClusterAssignment, error) {
	docs = p.scrub(docs)
	if _, err := p.indexer.Index(ctx, docs, forceReindex); err != nil {
		return nil, fmt.Errorf("index stage: %w", err)
	}

	records, err := p.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	vectors := make([][]float32, len(records))
	for i, rec := range records {
		vectors[i] = rec.Vector
	}
	coords, err := manifold.Reduce(vectors, p.opts.Reduce)
	if err != nil {
		return nil, fmt.Errorf("reduce stage: %w", err)
	}
	labels := cluster.Cluster(coords, p.opts.MinClusterSize, p.opts.MinSamples)

	assignments := make([]models.ClusterAssignment, len(records))
	for i, rec := range records {
		assignments[i] = models.ClusterAssignment{DocumentID: rec.DocID, Label: labels[i]}
	}
	return assignments, nil
}

// scrub redacts document text when enabled. A document that is
// entirely redacted material ends up with empty text and is skipped by
// the indexer.
func (p *Pipeline) scrub(docs []models.Document) []models.Document {
	if !p.opts.Redact {
		return docs
	}
	out := make([]models.Document, len(docs))
	for i, doc := range docs {
		doc.Text = privacy.Clean(doc.Text)
		out[i] = doc
	}
	return out
}

func (p *Pipeline) quality(coords [][]float64, labels []int) models.QualityReport {
	report := models.QualityReport{}
	seen := make(map[int]bool)
	for _, l := range labels {
		if l == models.NoiseLabel {
			report.NoiseCount++
			continue
		}
		seen[l] = true
	}
	report.ClusterCount = len(seen)
	if len(labels) > 0 {
		report.NoisePercent = 100 * float64(report.NoiseCount) / float64(len(labels))
	}
	report.Silhouette = cluster.Silhouette(coords, labels)
	return report
}

func (p *Pipeline) runParams(corpusSize int) models.RunParams {
	// Mirror the defaults each stage applies internally, so the echoed
	// params describe what actually ran.
	reduce := p.opts.Reduce
	if reduce.NNeighbors <= 0 {
		reduce.NNeighbors = manifold.DefaultNNeighbors
	}
	if reduce.NComponents <= 0 {
		reduce.NComponents = manifold.DefaultNComponents
	}
	// The reducer also clamps the neighborhood to the corpus.
	if corpusSize > 0 && reduce.NNeighbors >= corpusSize {
		reduce.NNeighbors = corpusSize - 1
		if reduce.NNeighbors < 1 {
			reduce.NNeighbors = 1
		}
	}
	if reduce.Metric == "" {
		reduce.Metric = manifold.DefaultMetric
	}
	if reduce.Seed == 0 {
		reduce.Seed = manifold.DefaultSeed
	}
	batch := p.opts.Index.BatchSize
	if batch <= 0 {
		batch = index.DefaultBatchSize
	}
	mcs := p.opts.MinClusterSize
	if mcs <= 0 {
		mcs = cluster.DefaultMinClusterSize
	}
	ms := p.opts.MinSamples
	if ms <= 0 {
		ms = cluster.DefaultMinSamples
	}
	return models.RunParams{
		Model:          p.embedder.ModelVersion(),
		BatchSize:      batch,
		NNeighbors:     reduce.NNeighbors,
		NComponents:    reduce.NComponents,
		Metric:         reduce.Metric,
		Seed:           reduce.Seed,
		MinClusterSize: mcs,
		MinSamples:     ms,
	}
}
