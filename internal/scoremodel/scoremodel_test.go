package scoremodel_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/scoremodel"
)

// Two videos: {0,1,2} and {3,4}.
func nextInVideo(id models.FrameID) models.FrameID {
	switch id {
	case 0:
		return 1
	case 1:
		return 2
	case 3:
		return 4
	default:
		return models.ErrFrameID
	}
}

func videoShotOf(id models.FrameID) (models.VideoID, models.ShotID) {
	if id <= 2 {
		return 1, models.ShotID(id)
	}
	return 2, models.ShotID(id)
}

func TestResetRestoresUniformState(t *testing.T) {
	m := scoremodel.New(3)
	m.SetMask(1, false)
	copy(m.Temp(0), []float64{0.1, 0.2, 0.3})

	m.Reset(1.0)
	for i := 0; i < 3; i++ {
		assert.True(t, m.Mask(models.FrameID(i)))
		assert.Equal(t, 1.0, m.Scores()[i])
		assert.Equal(t, 1.0, m.Temp(0)[i])
	}
	assert.Equal(t, models.UsedTools{}, m.UsedTools())
}

func TestNormalizeSumsToOneOverUnmaskedFrames(t *testing.T) {
	m := scoremodel.New(5)
	copy(m.Temp(0), []float64{1, 1, 2, 0, 0})
	m.SetMask(2, false)

	m.Normalize(1)

	row := m.Temp(0)
	assert.InDelta(t, 0.5, row[0], 1e-12)
	assert.InDelta(t, 0.5, row[1], 1e-12)
	assert.Equal(t, 0.0, row[2])
	assert.Equal(t, 0.0, row[3])
	assert.Equal(t, 0.0, row[4])
}

func TestNormalizeLeavesZeroRowsAlone(t *testing.T) {
	m := scoremodel.New(3)
	for i := range m.Temp(0) {
		m.Temp(0)[i] = 0
		m.Temp(1)[i] = 0
	}
	m.Normalize(2)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0.0, m.Temp(0)[i])
		assert.Equal(t, 0.0, m.Temp(1)[i])
	}
}

func TestApplyTemporalsSingleMoment(t *testing.T) {
	m := scoremodel.New(5)
	copy(m.Temp(0), []float64{0.5, 0.4, 0.3, 0.2, 0.1})
	m.SetMask(1, false)

	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)

	scores := m.Scores()
	assert.InDelta(t, math.Exp(-0.5), scores[0], 1e-12)
	assert.Equal(t, 0.0, scores[1])
	assert.InDelta(t, math.Exp(-0.3), scores[2], 1e-12)
	assert.InDelta(t, math.Exp(-0.1), scores[4], 1e-12)
}

func TestApplyTemporalsChainsThroughBestSuccessor(t *testing.T) {
	m := scoremodel.New(5)
	copy(m.Temp(0), []float64{0.5, 9, 9, 0.2, 9})
	copy(m.Temp(1), []float64{9, 0.3, 0.1, 9, 0.4})

	m.ApplyTemporals(2, scoremodel.NewNextResolver(nextInVideo), 1.0)

	scores := m.Scores()
	// Frame 0's best second moment is frame 2 (0.1 < 0.3).
	assert.InDelta(t, math.Exp(-0.5)*math.Exp(-0.1), scores[0], 1e-12)
	// Frame 3 can only chain to frame 4.
	assert.InDelta(t, math.Exp(-0.2)*math.Exp(-0.4), scores[3], 1e-12)
	// Last frames of their videos have no successor chain.
	assert.Equal(t, 0.0, scores[2])
	assert.Equal(t, 0.0, scores[4])
}

func TestApplyTemporalsZeroMomentsYieldsUniform(t *testing.T) {
	m := scoremodel.New(3)
	m.ApplyTemporals(0, scoremodel.NewNextResolver(nextInVideo), 1.0)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1.0, m.Scores()[i])
	}
}

func TestApplyBayesBoostsFramesSimilarToLikes(t *testing.T) {
	features, err := featurestore.NewMatrix([]float32{
		1, 0, // 0
		1, 0, // 1
		0, 1, // 2
	}, 3, 2)
	require.NoError(t, err)

	m := scoremodel.New(3)
	copy(m.Temp(0), []float64{0.1, 0.1, 0.1})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(func(models.FrameID) models.FrameID { return models.ErrFrameID }), 1.0)
	before := append([]float64(nil), m.Scores()...)

	require.NoError(t, m.ApplyBayes([]models.FrameID{0}, []models.FrameID{2}, features))

	scores := m.Scores()
	// cos(0,0)=cos(1,0)=1, cos(2,0)=0 and the shown frame is 2, so frames 0
	// and 1 gain a factor e^1 while frame 2 keeps e^0 = 1.
	assert.InDelta(t, before[0]*math.E, scores[0], 1e-9)
	assert.InDelta(t, before[1]*math.E, scores[1], 1e-9)
	assert.InDelta(t, before[2], scores[2], 1e-9)
	assert.True(t, m.UsedTools().BayesUsed)
}

func TestApplyBayesEmptyLikesIsNoOp(t *testing.T) {
	features, err := featurestore.NewMatrix([]float32{1, 0, 0, 1}, 2, 2)
	require.NoError(t, err)

	m := scoremodel.New(2)
	before := append([]float64(nil), m.Scores()...)
	require.NoError(t, m.ApplyBayes(nil, []models.FrameID{0}, features))
	assert.Equal(t, before, m.Scores())
	assert.False(t, m.UsedTools().BayesUsed)
}

func TestTopNOrdersDescendingWithIDTieBreak(t *testing.T) {
	m := scoremodel.New(5)
	copy(m.Temp(0), []float64{0.5, 0.4, 0.3, 0.2, 0.1})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)

	got := m.TopN(videoShotOf, 10, 0, 0)
	assert.Equal(t, []models.FrameID{4, 3, 2, 1, 0}, got)
}

func TestTopNTieBreaksOnLowerFrameID(t *testing.T) {
	m := scoremodel.New(4)
	copy(m.Temp(0), []float64{0.2, 0.2, 0.2, 0.2})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)

	got := m.TopN(videoShotOf, 4, 0, 0)
	assert.Equal(t, []models.FrameID{0, 1, 2, 3}, got)
}

func TestTopNRespectsCapsAndLimit(t *testing.T) {
	m := scoremodel.New(5)
	copy(m.Temp(0), []float64{0.1, 0.2, 0.3, 0.4, 0.5})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)

	// Descending order is 0,1,2,3,4; frames 0..2 share video 1.
	got := m.TopN(videoShotOf, 10, 1, 0)
	assert.Equal(t, []models.FrameID{0, 3}, got)

	got = m.TopN(videoShotOf, 2, 0, 0)
	assert.Equal(t, []models.FrameID{0, 1}, got)
}

func TestTopNSkipsMaskedFrames(t *testing.T) {
	m := scoremodel.New(3)
	copy(m.Temp(0), []float64{0.1, 0.2, 0.3})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)
	m.SetMask(0, false)

	got := m.TopN(videoShotOf, 10, 0, 0)
	assert.NotContains(t, got, models.FrameID(0))
}

func TestTopNWithContextSplicesNeighbours(t *testing.T) {
	m := scoremodel.New(5)
	copy(m.Temp(0), []float64{0.5, 0.1, 0.5, 0.5, 0.5})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)

	prev := func(id models.FrameID) models.FrameID {
		switch id {
		case 1:
			return 0
		case 2:
			return 1
		case 4:
			return 3
		default:
			return models.ErrFrameID
		}
	}
	got := m.TopNWithContext(videoShotOf, scoremodel.NewNextResolver(nextInVideo), prev, 1, 0, 0)
	assert.Equal(t, []models.FrameID{0, 1, 2}, got)
}

func TestFrameRank(t *testing.T) {
	m := scoremodel.New(3)
	copy(m.Temp(0), []float64{0.3, 0.1, 0.2})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)

	assert.Equal(t, 0, m.FrameRank(1))
	assert.Equal(t, 1, m.FrameRank(2))
	assert.Equal(t, 2, m.FrameRank(0))
	assert.Equal(t, -1, m.FrameRank(models.FrameID(99)))
}

func TestWeightedSampleDrawsDistinctUnmaskedFrames(t *testing.T) {
	m := scoremodel.New(5)
	copy(m.Temp(0), []float64{0.1, 0.2, 0.3, 0.4, 0.5})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)
	m.SetMask(4, false)

	seq := []float64{0.9, 0.3, 0.7, 0.1, 0.5}
	i := 0
	rng := func() float64 {
		v := seq[i%len(seq)]
		i++
		return v
	}

	got := m.WeightedSample(3, 1.0, rng)
	require.Len(t, got, 3)
	seen := map[models.FrameID]bool{}
	for _, id := range got {
		assert.False(t, seen[id])
		seen[id] = true
		assert.NotEqual(t, models.FrameID(4), id)
	}
}

func TestWeightedSampleClampsToPopulation(t *testing.T) {
	m := scoremodel.New(2)
	copy(m.Temp(0), []float64{0.1, 0.2})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)

	got := m.WeightedSample(10, 1.0, func() float64 { return 0.5 })
	assert.Len(t, got, 2)
}

func TestCloneIsDeepAndEqual(t *testing.T) {
	m := scoremodel.New(3)
	copy(m.Temp(0), []float64{0.1, 0.2, 0.3})
	m.Normalize(1)
	m.ApplyTemporals(1, scoremodel.NewNextResolver(nextInVideo), 1.0)

	c := m.Clone()
	assert.True(t, m.Equal(c))

	c.SetMask(0, false)
	assert.False(t, m.Equal(c))
	assert.True(t, m.Mask(0))
}
