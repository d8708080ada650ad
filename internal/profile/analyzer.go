// Package profile turns raw cluster membership into human-interpretable
// cluster profiles: representative keywords, dominant metadata values,
// and exemplar records.
package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thebtf/taxon/pkg/models"
	"github.com/thebtf/taxon/pkg/similarity"
)

// Default profiling parameters.
const (
	DefaultTopKeywords = 10
	DefaultTopMetadata = 5
	DefaultExemplars   = 3
)

// Options tune how much of each characterization a profile carries.
// Zero values select the defaults; a nil Stopwords map selects
// similarity.DefaultStopwords.
type Options struct {
	TopKeywords   int
	TopMetadata   int
	Exemplars     int
	MinWordLength int
	Stopwords     map[string]bool
}

func (o *Options) setDefaults() {
	if o.TopKeywords <= 0 {
		o.TopKeywords = DefaultTopKeywords
	}
	if o.TopMetadata <= 0 {
		o.TopMetadata = DefaultTopMetadata
	}
	if o.Exemplars <= 0 {
		o.Exemplars = DefaultExemplars
	}
	if o.MinWordLength <= 0 {
		o.MinWordLength = similarity.DefaultMinWordLength
	}
	if o.Stopwords == nil {
		o.Stopwords = similarity.DefaultStopwords
	}
}

// Analyzer derives ClusterProfiles from assignments and documents.
type Analyzer struct {
	opts Options
}

// New creates an analyzer with the given options.
func New(opts Options) *Analyzer {
	opts.setDefaults()
	return &Analyzer{opts: opts}
}

// Analyze produces one profile per non-noise cluster, ordered by size
// descending so operators triage the highest-impact categories first.
// Noise points are excluded here; the pipeline reports them separately.
func (a *Analyzer) Analyze(assignments []models.ClusterAssignment, docs []models.Document) ([]models.ClusterProfile, error) {
	byID := make(map[string]models.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}

	// Group cluster members in assignment order: that order is the
	// stable insertion order exemplar selection relies on.
	members := make(map[int][]models.Document)
	for _, as := range assignments {
		if as.IsNoise() {
			continue
		}
		doc, ok := byID[as.DocumentID]
		if !ok {
			return nil, fmt.Errorf("assignment references unknown document %q", as.DocumentID)
		}
		members[as.Label] = append(members[as.Label], doc)
	}

	profiles := make([]models.ClusterProfile, 0, len(members))
	for label, clusterDocs := range members {
		profiles = append(profiles, models.ClusterProfile{
			ClusterID:   label,
			Size:        len(clusterDocs),
			TopMetadata: a.topMetadata(clusterDocs),
			Keywords:    a.keywords(clusterDocs),
			Exemplars:   a.exemplars(clusterDocs),
		})
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Size != profiles[j].Size {
			return profiles[i].Size > profiles[j].Size
		}
		return profiles[i].ClusterID < profiles[j].ClusterID
	})
	return profiles, nil
}

// keywords ranks terms by plain frequency over the concatenated cluster
// text. Deliberately not TF-IDF: frequency counting is deterministic,
// cheap, and good enough for a human skimming a category.
func (a *Analyzer) keywords(docs []models.Document) []string {
	var sb strings.Builder
	for _, doc := range docs {
		sb.WriteString(doc.Text)
		sb.WriteByte(' ')
	}
	counts := similarity.CountTerms(sb.String(), a.opts.Stopwords, a.opts.MinWordLength)

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > a.opts.TopKeywords {
		terms = terms[:a.opts.TopKeywords]
	}
	return terms
}

func (a *Analyzer) topMetadata(docs []models.Document) map[string][]models.ValueCount {
	fieldCounts := make(map[string]map[string]int)
	for _, doc := range docs {
		for field, value := range doc.Metadata.Fields() {
			if fieldCounts[field] == nil {
				fieldCounts[field] = make(map[string]int)
			}
			fieldCounts[field][value]++
		}
	}

	top := make(map[string][]models.ValueCount, len(fieldCounts))
	for field, counts := range fieldCounts {
		values := make([]models.ValueCount, 0, len(counts))
		for value, count := range counts {
			values = append(values, models.ValueCount{Value: value, Count: count})
		}
		sort.Slice(values, func(i, j int) bool {
			if values[i].Count != values[j].Count {
				return values[i].Count > values[j].Count
			}
			return values[i].Value < values[j].Value
		})
		if len(values) > a.opts.TopMetadata {
			values = values[:a.opts.TopMetadata]
		}
		top[field] = values
	}
	return top
}

// exemplars picks the first N members in insertion order: arbitrary but
// stable, which is all spot-checking needs.
func (a *Analyzer) exemplars(docs []models.Document) []models.Document {
	n := a.opts.Exemplars
	if n > len(docs) {
		n = len(docs)
	}
	out := make([]models.Document, n)
	copy(out, docs[:n])
	return out
}
