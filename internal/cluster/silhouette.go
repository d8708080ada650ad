package cluster

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/thebtf/taxon/pkg/models"
)

// Advisory interpretation thresholds for silhouette scores.
const (
	GradeExcellentAbove = 0.5
	GradeGoodAbove      = 0.3
)

// Silhouette computes the mean silhouette score over the non-noise
// subset of points, in [-1, 1]. Returns nil when fewer than two clusters
// exist — the metric is undefined there, which is a degenerate result to
// report, not an error to raise.
func Silhouette(coords [][]float64, labels []int) *float64 {
	var idx []int
	sizes := make(map[int]int)
	for i, l := range labels {
		if l == models.NoiseLabel {
			continue
		}
		idx = append(idx, i)
		sizes[l]++
	}
	if len(sizes) < 2 {
		return nil
	}

	// Per-point scores are independent; fan out and reduce in fixed
	// order so the result is deterministic.
	scores := make([]float64, len(idx))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for pos, i := range idx {
		g.Go(func() error {
			scores[pos] = pointScore(coords, labels, sizes, i, idx)
			return nil
		})
	}
	_ = g.Wait()

	var total float64
	for _, s := range scores {
		total += s
	}
	mean := total / float64(len(idx))
	return &mean
}

// pointScore is (b-a)/max(a,b): a the mean distance to the point's own
// cluster, b the mean distance to the nearest other cluster. Singleton
// clusters score 0 by convention.
func pointScore(coords [][]float64, labels []int, sizes map[int]int, i int, idx []int) float64 {
	own := labels[i]
	if sizes[own] <= 1 {
		return 0
	}

	sums := make(map[int]float64, len(sizes))
	for _, j := range idx {
		if j == i {
			continue
		}
		sums[labels[j]] += pointDistance(coords[i], coords[j])
	}

	a := sums[own] / float64(sizes[own]-1)
	b := math.Inf(1)
	for l, sum := range sums {
		if l == own {
			continue
		}
		if mean := sum / float64(sizes[l]); mean < b {
			b = mean
		}
	}

	denom := math.Max(a, b)
	if denom == 0 {
		return 0
	}
	return (b - a) / denom
}

func pointDistance(a, b []float64) float64 {
	var sum float64
	for d := range a {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// Grade maps a silhouette score to its advisory label. These are hints
// for a human tuning parameters, not pass/fail gates.
func Grade(score float64) string {
	switch {
	case score > GradeExcellentAbove:
		return "excellent"
	case score > GradeGoodAbove:
		return "good"
	default:
		return "moderate"
	}
}
