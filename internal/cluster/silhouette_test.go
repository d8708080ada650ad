package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSilhouette_UndefinedForSingleCluster(t *testing.T) {
	coords := [][]float64{{0, 0}, {1, 0}, {0, 1}}

	assert.Nil(t, Silhouette(coords, []int{0, 0, 0}))
	assert.Nil(t, Silhouette(coords, []int{-1, -1, -1}))
	assert.Nil(t, Silhouette(nil, nil))
}

func TestSilhouette_WellSeparatedClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	coords := append(blob(rng, []float64{0, 0}, 20, 0.3), blob(rng, []float64{50, 50}, 20, 0.3)...)
	labels := make([]int, 40)
	for i := 20; i < 40; i++ {
		labels[i] = 1
	}

	score := Silhouette(coords, labels)
	require.NotNil(t, score)
	assert.Greater(t, *score, 0.9, "tight distant blobs separate almost perfectly")
	assert.LessOrEqual(t, *score, 1.0)
}

func TestSilhouette_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	coords := make([][]float64, 60)
	labels := make([]int, 60)
	for i := range coords {
		coords[i] = []float64{rng.Float64(), rng.Float64()}
		labels[i] = i % 3 // arbitrary labels over uniform points
	}

	score := Silhouette(coords, labels)
	require.NotNil(t, score)
	assert.GreaterOrEqual(t, *score, -1.0)
	assert.LessOrEqual(t, *score, 1.0)
}

func TestSilhouette_IgnoresNoise(t *testing.T) {
	coords := [][]float64{
		{0, 0}, {0.1, 0}, {50, 50}, {50.1, 50},
		{1000, -1000}, // noise outlier must not drag the score
	}
	labels := []int{0, 0, 1, 1, -1}

	score := Silhouette(coords, labels)
	require.NotNil(t, score)
	assert.Greater(t, *score, 0.99)
}

func TestSilhouette_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	coords := append(blob(rng, []float64{0, 0}, 30, 1), blob(rng, []float64{10, 10}, 30, 1)...)
	labels := make([]int, 60)
	for i := 30; i < 60; i++ {
		labels[i] = 1
	}

	first := Silhouette(coords, labels)
	second := Silhouette(coords, labels)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
}

func TestGrade(t *testing.T) {
	tests := []struct {
		score    float64
		expected string
	}{
		{0.8, "excellent"},
		{0.51, "excellent"},
		{0.5, "good"},
		{0.31, "good"},
		{0.3, "moderate"},
		{0.0, "moderate"},
		{-0.4, "moderate"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Grade(tt.score), "score %v", tt.score)
	}
}
