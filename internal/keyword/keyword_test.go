package keyword_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/keyword"
	"github.com/adverant/somhunter/internal/models"
)

func newTestRanker(t *testing.T) (*keyword.Ranker, *featurestore.Matrix) {
	t.Helper()
	features, err := featurestore.NewMatrix([]float32{1, 0, 0, 1}, 2, 2)
	require.NoError(t, err)

	kws := []models.Keyword{
		{ID: 0, SynsetStrs: []string{"car", "automobile"}},
		{ID: 1, SynsetStrs: []string{"cart"}},
		{ID: 2, SynsetStrs: []string{"dog"}},
	}
	cfg := keyword.Config{
		Keywords: kws,
		Projection: [][]float32{
			{1, 0}, // car
			{1, 0}, // cart
			{0, 1}, // dog
		},
		Bias:    []float32{0, 0},
		PCAMean: []float32{0, 0},
		PCAMat: [][]float32{
			{1, 0},
			{0, 1},
		},
		PreDim: 2,
		Dim:    2,
	}
	r, err := keyword.New(cfg, features)
	require.NoError(t, err)
	return r, features
}

func TestEmbedUnknownWordFails(t *testing.T) {
	r, _ := newTestRanker(t)
	_, ok := r.Embed("spaceship")
	assert.False(t, ok)
}

func TestEmbedKnownWordNormalizes(t *testing.T) {
	r, _ := newTestRanker(t)
	vec, ok := r.Embed("car")
	require.True(t, ok)

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-6)
}

func TestScoreMatchesFeatureSpace(t *testing.T) {
	r, _ := newTestRanker(t)
	out := make([]float64, 2)
	matched, err := r.Score("car", out)
	require.NoError(t, err)
	require.True(t, matched)
	// "car" projects toward [1,0], matching feature row 0 exactly.
	assert.InDelta(t, 0.0, out[0], 1e-3)
	assert.Greater(t, out[1], out[0])
}

func TestScoreUnmatchedReturnsFalse(t *testing.T) {
	r, _ := newTestRanker(t)
	out := make([]float64, 2)
	matched, err := r.Score("unknown words only", out)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestFindOrdersByShortestMatchThenID(t *testing.T) {
	r, _ := newTestRanker(t)
	got := r.Find("car", 10)
	// "car" (len 3, keyword 0) should rank before "cart" (len 4, keyword 1);
	// keyword 0's "automobile" does not start with "car", so keyword 0's best
	// length is 3.
	require.Len(t, got, 2)
	assert.Equal(t, models.KeywordID(0), got[0])
	assert.Equal(t, models.KeywordID(1), got[1])
}

func TestFindEmptyPrefixOrZeroCount(t *testing.T) {
	r, _ := newTestRanker(t)
	assert.Nil(t, r.Find("", 10))
	assert.Nil(t, r.Find("car", 0))
}

func TestFindRespectsLimit(t *testing.T) {
	r, _ := newTestRanker(t)
	got := r.Find("car", 1)
	require.Len(t, got, 1)
	assert.Equal(t, models.KeywordID(0), got[0])
}
