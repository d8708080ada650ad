package profile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/taxon/pkg/models"
	"github.com/thebtf/taxon/pkg/similarity"
)

func billingDoc(i int) models.Document {
	return models.Document{
		ID:   fmt.Sprintf("billing-%d", i),
		Text: "invoice payment failed, billing portal shows duplicate charge",
		Metadata: models.Metadata{
			Category: "billing",
			Status:   "open",
			Account:  fmt.Sprintf("acct-%d", i%2),
		},
	}
}

func loginDoc(i int) models.Document {
	return models.Document{
		ID:   fmt.Sprintf("login-%d", i),
		Text: "password reset link expired, cannot login to dashboard",
		Metadata: models.Metadata{
			Category: "auth",
			Status:   "closed",
		},
	}
}

func buildCorpus(billing, login int) ([]models.ClusterAssignment, []models.Document) {
	var docs []models.Document
	var assignments []models.ClusterAssignment
	for i := 0; i < billing; i++ {
		d := billingDoc(i)
		docs = append(docs, d)
		assignments = append(assignments, models.ClusterAssignment{DocumentID: d.ID, Label: 0})
	}
	for i := 0; i < login; i++ {
		d := loginDoc(i)
		docs = append(docs, d)
		assignments = append(assignments, models.ClusterAssignment{DocumentID: d.ID, Label: 1})
	}
	return assignments, docs
}

func TestAnalyzeOrdersBySizeDescending(t *testing.T) {
	assignments, docs := buildCorpus(3, 7)

	profiles, err := New(Options{}).Analyze(assignments, docs)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, 1, profiles[0].ClusterID)
	assert.Equal(t, 7, profiles[0].Size)
	assert.Equal(t, 0, profiles[1].ClusterID)
	assert.Equal(t, 3, profiles[1].Size)
}

func TestAnalyzeKeywordsReflectClusterVocabulary(t *testing.T) {
	assignments, docs := buildCorpus(5, 5)

	profiles, err := New(Options{}).Analyze(assignments, docs)
	require.NoError(t, err)

	for _, p := range profiles {
		switch p.ClusterID {
		case 0:
			assert.Contains(t, p.Keywords, "invoice")
			assert.Contains(t, p.Keywords, "billing")
			assert.NotContains(t, p.Keywords, "password")
		case 1:
			assert.Contains(t, p.Keywords, "password")
			assert.Contains(t, p.Keywords, "login")
			assert.NotContains(t, p.Keywords, "invoice")
		}
	}
}

func TestAnalyzeKeywordHygiene(t *testing.T) {
	docs := []models.Document{
		{ID: "a", Text: "the issue is that the api is down, please fix it"},
		{ID: "b", Text: "the api is down again, thanks for looking at the issue"},
	}
	assignments := []models.ClusterAssignment{
		{DocumentID: "a", Label: 0},
		{DocumentID: "b", Label: 0},
	}

	profiles, err := New(Options{MinWordLength: 3}).Analyze(assignments, docs)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	for _, kw := range profiles[0].Keywords {
		assert.GreaterOrEqual(t, len(kw), 3, "keyword %q shorter than minimum", kw)
		assert.False(t, similarity.DefaultStopwords[kw], "stopword %q leaked into keywords", kw)
	}
	assert.Contains(t, profiles[0].Keywords, "api")
}

func TestAnalyzeTopMetadata(t *testing.T) {
	assignments, docs := buildCorpus(4, 0)

	profiles, err := New(Options{}).Analyze(assignments, docs)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	top := profiles[0].TopMetadata
	require.Contains(t, top, "category")
	assert.Equal(t, models.ValueCount{Value: "billing", Count: 4}, top["category"][0])

	// acct-0 and acct-1 tie at 2; ties break alphabetically.
	require.Contains(t, top, "account")
	require.Len(t, top["account"], 2)
	assert.Equal(t, "acct-0", top["account"][0].Value)
	assert.Equal(t, "acct-1", top["account"][1].Value)
}

func TestAnalyzeExemplarsKeepInsertionOrder(t *testing.T) {
	assignments, docs := buildCorpus(5, 0)

	profiles, err := New(Options{Exemplars: 2}).Analyze(assignments, docs)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	require.Len(t, profiles[0].Exemplars, 2)
	assert.Equal(t, "billing-0", profiles[0].Exemplars[0].ID)
	assert.Equal(t, "billing-1", profiles[0].Exemplars[1].ID)
}

func TestAnalyzeExcludesNoise(t *testing.T) {
	assignments, docs := buildCorpus(3, 0)
	noise := models.Document{ID: "stray", Text: "completely unrelated rambling"}
	docs = append(docs, noise)
	assignments = append(assignments, models.ClusterAssignment{DocumentID: "stray", Label: models.NoiseLabel})

	profiles, err := New(Options{}).Analyze(assignments, docs)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, 3, profiles[0].Size)
	assert.NotContains(t, profiles[0].Keywords, "rambling")
}

func TestAnalyzeUnknownDocument(t *testing.T) {
	assignments := []models.ClusterAssignment{{DocumentID: "ghost", Label: 0}}

	_, err := New(Options{}).Analyze(assignments, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestAnalyzeEmpty(t *testing.T) {
	profiles, err := New(Options{}).Analyze(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestAnalyzeCapsKeywordCount(t *testing.T) {
	assignments, docs := buildCorpus(6, 0)

	profiles, err := New(Options{TopKeywords: 3}).Analyze(assignments, docs)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.LessOrEqual(t, len(profiles[0].Keywords), 3)
}
