package display_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/somhunter/internal/display"
	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/framestore"
	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/scoremodel"
)

func testFrames(t *testing.T) *framestore.FrameStore {
	t.Helper()
	fs, err := framestore.New([]models.Frame{
		{FrameID: 0, VideoID: 1, ShotID: 0, FrameNumber: 0},
		{FrameID: 1, VideoID: 1, ShotID: 0, FrameNumber: 1},
		{FrameID: 2, VideoID: 1, ShotID: 1, FrameNumber: 2},
		{FrameID: 3, VideoID: 1, ShotID: 1, FrameNumber: 3},
		{FrameID: 4, VideoID: 2, ShotID: 0, FrameNumber: 0},
		{FrameID: 5, VideoID: 2, ShotID: 0, FrameNumber: 1},
	})
	require.NoError(t, err)
	return fs
}

func testDeps(t *testing.T, frames *framestore.FrameStore) display.Deps {
	t.Helper()
	features, err := featurestore.NewMatrix([]float32{
		1, 0,
		1, 0,
		0, 1,
		0, 1,
		1, 0,
		0, 1,
	}, 6, 2)
	require.NoError(t, err)

	m := scoremodel.New(6)
	copy(m.Temp(0), []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})
	m.ApplyTemporals(1, scoremodel.NewNextResolver(frames.NextInVideoAfter), 1.0)

	return display.Deps{
		Model: m,
		Resolve: func(id models.FrameID) (models.VideoID, models.ShotID) {
			f, err := frames.Get(id)
			if err != nil {
				return models.ErrVideoID, 0
			}
			return f.VideoID, f.ShotID
		},
		Shown:    make(models.ShownSet),
		Features: features,
		Rng:      func() float64 { return 0.5 },
	}
}

func testConfig() display.Config {
	return display.Config{
		PageSize:    2,
		TopNLimit:   4,
		PerVideoCap: 0,
		PerShotCap:  0,
		RandomTemp:  1.0,
		GridW:       2,
		GridH:       2,
	}
}

func TestTopNPagingSlicesWithoutReranking(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	r := display.New(testConfig(), frames)

	page0, ev, err := r.GetDisplay(display.Request{Kind: display.DTopN, Page: 0}, deps)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, []models.FrameID{0, 1}, page0)

	page1, _, err := r.GetDisplay(display.Request{Kind: display.DTopN, Page: 1}, deps)
	require.NoError(t, err)
	assert.Equal(t, []models.FrameID{2, 3}, page1)

	for _, id := range []models.FrameID{0, 1, 2, 3} {
		_, ok := deps.Shown[id]
		assert.True(t, ok, "frame %d should be marked shown", id)
	}
	assert.Equal(t, display.DTopN, r.CurrentType())
}

func TestPagingBeyondEndReturnsEmpty(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	r := display.New(testConfig(), frames)

	out, _, err := r.GetDisplay(display.Request{Kind: display.DTopN, Page: 10}, deps)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTopKNNEmitsResultLogAndTransitionEmitsAgain(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	r := display.New(testConfig(), frames)

	_, ev, err := r.GetDisplay(display.Request{Kind: display.DTopKNN, Selected: 0, Page: 0}, deps)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, display.DTopKNN, ev.DisplayType)

	// Backing out of the query-by-example view fires the side channel again.
	_, ev, err = r.GetDisplay(display.Request{Kind: display.DTopN, Page: 0}, deps)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, display.DTopN, ev.DisplayType)
	assert.Equal(t, []models.FrameID{0, 1, 2, 3}, ev.TopN)

	// The flag is consumed: a second TopN page does not re-log.
	_, ev, err = r.GetDisplay(display.Request{Kind: display.DTopN, Page: 1}, deps)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestForceResultLog(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	r := display.New(testConfig(), frames)

	r.ForceResultLog()
	_, ev, err := r.GetDisplay(display.Request{Kind: display.DTopN, Page: 0}, deps)
	require.NoError(t, err)
	assert.NotNil(t, ev)
}

func TestSomDisplayBeforeReadyReturnsEmpty(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	r := display.New(testConfig(), frames)

	out, ev, err := r.GetDisplay(display.Request{Kind: display.DSom}, deps)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Nil(t, ev)
}

func TestRelocationDisplayRejectsOutOfRangeMoment(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	r := display.New(testConfig(), frames)

	_, _, err := r.GetDisplay(display.Request{Kind: display.DRelocation, TempID: 3}, deps)
	assert.Error(t, err)
}

func TestVideoDetailReturnsWholeVideo(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	r := display.New(testConfig(), frames)

	out, _, err := r.GetDisplay(display.Request{Kind: display.DVideoDetail, Selected: 4}, deps)
	require.NoError(t, err)
	assert.Equal(t, []models.FrameID{4, 5}, out)
	_, ok := deps.Shown[5]
	assert.True(t, ok)
	assert.Equal(t, display.DVideoDetail, r.CurrentType())
}

func TestRandomDisplaySamplesFromModel(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	r := display.New(testConfig(), frames)

	out, _, err := r.GetDisplay(display.Request{Kind: display.DRand}, deps)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.LessOrEqual(t, len(out), 4)
	for _, id := range out {
		_, ok := deps.Shown[id]
		assert.True(t, ok)
	}
	assert.Equal(t, display.DRand, r.CurrentType())
}

func TestTopNContextKeepsNeighboursAdjacent(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	cfg := testConfig()
	cfg.TopNLimit = 1
	cfg.PageSize = 6
	r := display.New(cfg, frames)

	out, _, err := r.GetDisplay(display.Request{Kind: display.DTopNContext, Page: 0}, deps)
	require.NoError(t, err)
	// Anchor 0 has no predecessor; its successor 1 follows it directly.
	assert.Equal(t, []models.FrameID{0, 1}, out)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	frames := testFrames(t)
	deps := testDeps(t, frames)
	r := display.New(testConfig(), frames)

	_, _, err := r.GetDisplay(display.Request{Kind: display.DTopN, Page: 0}, deps)
	require.NoError(t, err)
	snap := r.Snapshot()

	_, _, err = r.GetDisplay(display.Request{Kind: display.DVideoDetail, Selected: 4}, deps)
	require.NoError(t, err)
	require.Equal(t, display.DVideoDetail, r.CurrentType())

	r.Restore(snap)
	assert.Equal(t, display.DTopN, r.CurrentType())
}
