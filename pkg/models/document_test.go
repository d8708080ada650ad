package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFields(t *testing.T) {
	m := Metadata{
		Category: "billing",
		Status:   "open",
		Extra:    map[string]string{"region": "eu-west", "empty": ""},
	}

	fields := m.Fields()
	assert.Equal(t, map[string]string{
		"category": "billing",
		"status":   "open",
		"region":   "eu-west",
	}, fields)
}

func TestMetadataFieldsEmpty(t *testing.T) {
	assert.Empty(t, Metadata{}.Fields())
}

func TestDocumentHasText(t *testing.T) {
	assert.True(t, Document{Text: "invoice overdue"}.HasText())
	assert.False(t, Document{Text: "   \n\t"}.HasText())
	assert.False(t, Document{}.HasText())
}

func TestClusterAssignmentIsNoise(t *testing.T) {
	assert.True(t, ClusterAssignment{DocumentID: "d1", Label: NoiseLabel}.IsNoise())
	assert.False(t, ClusterAssignment{DocumentID: "d2", Label: 0}.IsNoise())
}

func TestAnalysisResultJSON(t *testing.T) {
	result := NewAnalysisResult("run-1", RunParams{Model: "hash/fnv64a-v1", Seed: 42})
	result.Quality = QualityReport{ClusterCount: 1}

	data, err := result.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "run-1"`)
	assert.Contains(t, string(data), `"silhouette_score": null`)
	assert.NotEmpty(t, result.GeneratedAt)
}
