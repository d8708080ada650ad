package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/taxon/pkg/models"
)

// blob generates count points around center with the given jitter.
func blob(rng *rand.Rand, center []float64, count int, jitter float64) [][]float64 {
	points := make([][]float64, count)
	for i := range points {
		p := make([]float64, len(center))
		for d := range p {
			p[d] = center[d] + rng.NormFloat64()*jitter
		}
		points[i] = p
	}
	return points
}

func TestCluster_Empty(t *testing.T) {
	assert.Nil(t, Cluster(nil, 5, 3))
}

func TestCluster_TooFewPoints(t *testing.T) {
	coords := [][]float64{{0, 0}, {1, 1}, {2, 2}}
	labels := Cluster(coords, 5, 3)

	require.Len(t, labels, 3)
	for _, l := range labels {
		assert.Equal(t, models.NoiseLabel, l)
	}
}

func TestCluster_TotalCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	coords := append(blob(rng, []float64{0, 0}, 40, 0.5), blob(rng, []float64{20, 20}, 40, 0.5)...)

	labels := Cluster(coords, 5, 3)
	require.Len(t, labels, len(coords), "exactly one label per point")
	for _, l := range labels {
		assert.GreaterOrEqual(t, l, models.NoiseLabel)
	}
}

func TestCluster_TwoWellSeparatedBlobs(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	perBlob := 100
	coords := append(
		blob(rng, []float64{0, 0, 0}, perBlob, 0.5),
		blob(rng, []float64{30, 30, 30}, perBlob, 0.5)...,
	)

	labels := Cluster(coords, 5, 3)

	counts := make(map[int]map[int]int) // blob -> label -> count
	noise := 0
	for i, l := range labels {
		if l == models.NoiseLabel {
			noise++
			continue
		}
		b := i / perBlob
		if counts[b] == nil {
			counts[b] = make(map[int]int)
		}
		counts[b][l]++
	}

	distinct := make(map[int]bool)
	for _, byLabel := range counts {
		for l := range byLabel {
			distinct[l] = true
		}
	}
	assert.Len(t, distinct, 2, "exactly two non-noise clusters")
	assert.LessOrEqual(t, noise, len(coords)/20, "noise at most 5%")

	// Each blob is dominated by a single label, >= 90% pure
	for b, byLabel := range counts {
		best := 0
		for _, c := range byLabel {
			if c > best {
				best = c
			}
		}
		assert.GreaterOrEqual(t, best, perBlob*9/10, "blob %d purity", b)
	}
}

func TestCluster_TightFragmentsFoldIntoTheirGroup(t *testing.T) {
	// Each group is three very dense clumps a couple of units apart;
	// the groups themselves sit far from each other. Stability on its
	// own prefers the clumps (and strands the points between them as
	// noise); the group-scale split must win instead.
	rng := rand.New(rand.NewSource(5))
	group := func(cx, cy float64) [][]float64 {
		pts := blob(rng, []float64{cx, cy}, 12, 0.05)
		pts = append(pts, blob(rng, []float64{cx + 2, cy}, 12, 0.05)...)
		return append(pts, blob(rng, []float64{cx, cy + 2}, 12, 0.05)...)
	}
	coords := append(group(0, 0), group(40, 40)...)

	labels := Cluster(coords, 5, 3)
	require.Len(t, labels, 72)

	first := make(map[int]bool)
	second := make(map[int]bool)
	for i, l := range labels {
		require.NotEqual(t, models.NoiseLabel, l, "point %d is noise", i)
		if i < 36 {
			first[l] = true
		} else {
			second[l] = true
		}
	}
	assert.Len(t, first, 1, "first group is one cluster")
	assert.Len(t, second, 1, "second group is one cluster")
	assert.NotEqual(t, first, second)
}

func TestCluster_AllIdenticalPoints(t *testing.T) {
	coords := make([][]float64, 50)
	for i := range coords {
		coords[i] = []float64{1.5, -2.5, 0}
	}

	labels := Cluster(coords, 5, 3)
	require.Len(t, labels, 50)
	for _, l := range labels {
		assert.Equal(t, 0, l, "single cluster, zero noise")
	}
}

func TestCluster_UniformNoise(t *testing.T) {
	// Points spread uniformly with no dense region bigger than the
	// cluster threshold still all get labels (possibly all one mass or
	// noise) - the call must not panic and must cover every point.
	rng := rand.New(rand.NewSource(3))
	coords := make([][]float64, 30)
	for i := range coords {
		coords[i] = []float64{rng.Float64() * 1000, rng.Float64() * 1000}
	}

	labels := Cluster(coords, 10, 5)
	require.Len(t, labels, 30)
}

func TestCluster_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	coords := append(blob(rng, []float64{0, 0}, 30, 1), blob(rng, []float64{15, 15}, 30, 1)...)

	first := Cluster(coords, 5, 3)
	second := Cluster(coords, 5, 3)
	assert.Equal(t, first, second)
}

func TestPairAgreement(t *testing.T) {
	tests := []struct {
		name     string
		a        []int
		b        []int
		expected float64
	}{
		{
			name:     "identical groupings",
			a:        []int{0, 0, 1, 1},
			b:        []int{0, 0, 1, 1},
			expected: 1.0,
		},
		{
			name:     "same grouping different label values",
			a:        []int{0, 0, 1, 1},
			b:        []int{1, 1, 0, 0},
			expected: 1.0,
		},
		{
			name:     "completely different",
			a:        []int{0, 0, 1, 1},
			b:        []int{0, 1, 0, 1},
			expected: 0.0,
		},
		{
			name:     "noise never pairs",
			a:        []int{-1, -1, 0, 0},
			b:        []int{0, 0, -1, -1},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, PairAgreement(tt.a, tt.b), 0.001)
		})
	}
}
