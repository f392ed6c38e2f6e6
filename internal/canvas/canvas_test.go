package canvas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/somhunter/internal/canvas"
	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/keyword"
	"github.com/adverant/somhunter/internal/models"
)

type stubEncoder struct {
	vec []float32
	err error
}

func (s stubEncoder) Encode(*models.Bitmap) ([]float32, error) { return s.vec, s.err }

func buildRanker(t *testing.T, images canvas.ImageEncoder) *canvas.Ranker {
	t.Helper()
	whole, err := featurestore.NewMatrix([]float32{1, 0, 0, 1}, 2, 2)
	require.NoError(t, err)

	words, err := keyword.New(keyword.Config{
		Keywords:   []models.Keyword{{ID: 0, SynsetStrs: []string{"car"}}},
		Projection: [][]float32{{1, 0}},
		Bias:       []float32{0, 0},
		PCAMean:    []float32{0, 0},
		PCAMat:     [][]float32{{1, 0}, {0, 1}},
		PreDim:     2,
		Dim:        2,
	}, whole)
	require.NoError(t, err)

	rects := []models.Rect{
		{X: 0, Y: 0, W: 0.5, H: 1},
		{X: 0.5, Y: 0, W: 0.5, H: 1},
	}
	regions, err := canvas.NewRegionTensor([]float32{
		1, 0, // frame 0, region 0 (left)
		0, 1, // frame 0, region 1 (right)
		0, 1, // frame 1, region 0 (left)
		1, 0, // frame 1, region 1 (right)
	}, 2, rects, 2)
	require.NoError(t, err)

	return canvas.New(words, images, regions, whole)
}

func TestScorePositionedMatchesBestRegion(t *testing.T) {
	r := buildRanker(t, nil)
	subs := []models.CanvasSubquery{
		{Rect: models.Rect{X: 0, Y: 0, W: 0.5, H: 1}, IsText: true, Text: "car"},
	}
	out := make([]float64, 2)
	matched, err := r.Score(subs, true, out)
	require.NoError(t, err)
	require.True(t, matched)
	assert.InDelta(t, 0.0, out[0], 1e-6)
	assert.InDelta(t, 1.0, out[1], 1e-6)
}

func TestScorePositionless(t *testing.T) {
	r := buildRanker(t, nil)
	subs := []models.CanvasSubquery{
		{Rect: models.Rect{X: 0, Y: 0, W: 0.5, H: 1}, IsText: true, Text: "car"},
	}
	out := make([]float64, 2)
	matched, err := r.Score(subs, false, out)
	require.NoError(t, err)
	require.True(t, matched)
	assert.InDelta(t, 0.0, out[0], 1e-6)
	assert.InDelta(t, 1.0, out[1], 1e-6)
}

func TestScoreUnmatchedTextReturnsFalse(t *testing.T) {
	r := buildRanker(t, nil)
	subs := []models.CanvasSubquery{
		{Rect: models.Rect{X: 0, Y: 0, W: 0.5, H: 1}, IsText: true, Text: "unknown"},
	}
	out := make([]float64, 2)
	matched, err := r.Score(subs, true, out)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestScorePositionedWithoutRegionsErrors(t *testing.T) {
	whole, err := featurestore.NewMatrix([]float32{1, 0, 0, 1}, 2, 2)
	require.NoError(t, err)
	words, err := keyword.New(keyword.Config{
		Keywords:   []models.Keyword{{ID: 0, SynsetStrs: []string{"car"}}},
		Projection: [][]float32{{1, 0}},
		Bias:       []float32{0, 0},
		PCAMean:    []float32{0, 0},
		PCAMat:     [][]float32{{1, 0}, {0, 1}},
		PreDim:     2,
		Dim:        2,
	}, whole)
	require.NoError(t, err)
	r := canvas.New(words, nil, nil, whole)

	out := make([]float64, 2)
	_, err = r.Score([]models.CanvasSubquery{{IsText: true, Text: "car"}}, true, out)
	assert.Error(t, err)
}

func TestScoreBitmapSubqueryUsesEncoder(t *testing.T) {
	r := buildRanker(t, stubEncoder{vec: []float32{1, 0}})
	subs := []models.CanvasSubquery{
		{Rect: models.Rect{X: 0, Y: 0, W: 0.5, H: 1}, IsText: false, Bitmap: &models.Bitmap{W: 1, H: 1, RGB: []byte{0, 0, 0}}},
	}
	out := make([]float64, 2)
	matched, err := r.Score(subs, false, out)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestScoreBitmapWithoutEncoderErrors(t *testing.T) {
	r := buildRanker(t, nil)
	subs := []models.CanvasSubquery{
		{Bitmap: &models.Bitmap{W: 1, H: 1, RGB: []byte{0, 0, 0}}},
	}
	out := make([]float64, 2)
	_, err := r.Score(subs, false, out)
	assert.Error(t, err)
}
