package filterengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/somhunter/internal/filterengine"
	"github.com/adverant/somhunter/internal/framestore"
	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/scoremodel"
)

func metadataFrames() []models.Frame {
	return []models.Frame{
		{FrameID: 0, VideoID: 1, ShotID: 0, FrameNumber: 0, HasTemporalMetadata: true, Weekday: 0, Hour: 0, Year: 2019},
		{FrameID: 1, VideoID: 1, ShotID: 0, FrameNumber: 1, HasTemporalMetadata: true, Weekday: 3, Hour: 12, Year: 2019},
		{FrameID: 2, VideoID: 2, ShotID: 0, FrameNumber: 0, HasTemporalMetadata: true, Weekday: 6, Hour: 23, Year: 2020},
		{FrameID: 3, VideoID: 2, ShotID: 1, FrameNumber: 1, HasTemporalMetadata: true, Weekday: 5, Hour: 8, Year: 2021},
	}
}

func plainFrames() []models.Frame {
	return []models.Frame{
		{FrameID: 0, VideoID: 1, FrameNumber: 0},
		{FrameID: 1, VideoID: 1, FrameNumber: 1},
		{FrameID: 2, VideoID: 2, FrameNumber: 0},
		{FrameID: 3, VideoID: 2, FrameNumber: 1},
	}
}

func TestApplyDefaultFiltersWithoutMetadataIsNoOp(t *testing.T) {
	frames, err := framestore.New(plainFrames())
	require.NoError(t, err)
	e := filterengine.New(frames)

	m := scoremodel.New(4)
	m.SetMask(2, false)

	// The no-op must not even reset the mask (spec §4.7).
	e.Apply(m, models.DefaultFilters())
	assert.False(t, m.Mask(2))
	assert.True(t, m.Mask(0))
}

func TestApplyDefaultFiltersWithMetadataResetsMask(t *testing.T) {
	frames, err := framestore.New(metadataFrames())
	require.NoError(t, err)
	e := filterengine.New(frames)

	m := scoremodel.New(4)
	m.SetMask(2, false)

	e.Apply(m, models.DefaultFilters())
	for i := 0; i < 4; i++ {
		assert.True(t, m.Mask(models.FrameID(i)), "frame %d", i)
	}
}

func TestApplyHourRange(t *testing.T) {
	frames, err := framestore.New(metadataFrames())
	require.NoError(t, err)
	e := filterengine.New(frames)

	f := models.DefaultFilters()
	f.HourFrom, f.HourTo = 0, 0
	m := scoremodel.New(4)
	e.Apply(m, f)

	assert.True(t, m.Mask(0))
	assert.False(t, m.Mask(1))
	assert.False(t, m.Mask(2))
	assert.False(t, m.Mask(3))
}

func TestApplyWeekdays(t *testing.T) {
	frames, err := framestore.New(metadataFrames())
	require.NoError(t, err)
	e := filterengine.New(frames)

	f := models.DefaultFilters()
	f.Weekdays[6] = false
	m := scoremodel.New(4)
	e.Apply(m, f)

	assert.True(t, m.Mask(0))
	assert.True(t, m.Mask(1))
	assert.False(t, m.Mask(2))
	assert.True(t, m.Mask(3))
}

func TestApplyYearRange(t *testing.T) {
	frames, err := framestore.New(metadataFrames())
	require.NoError(t, err)
	e := filterengine.New(frames)

	f := models.DefaultFilters()
	f.YearFrom, f.YearTo = 2020, 2020
	m := scoremodel.New(4)
	e.Apply(m, f)

	assert.False(t, m.Mask(0))
	assert.False(t, m.Mask(1))
	assert.True(t, m.Mask(2))
	assert.False(t, m.Mask(3))
}

func TestApplyDatasetParts(t *testing.T) {
	frames, err := framestore.New(plainFrames())
	require.NoError(t, err)
	e := filterengine.New(frames)

	f := models.DefaultFilters()
	f.DatasetParts = [2]bool{true, false}
	m := scoremodel.New(4)
	e.Apply(m, f)

	assert.True(t, m.Mask(0))
	assert.True(t, m.Mask(1))
	assert.False(t, m.Mask(2))
	assert.False(t, m.Mask(3))
}

func TestApplyIsIdempotentAndWidensAfterNarrowing(t *testing.T) {
	frames, err := framestore.New(metadataFrames())
	require.NoError(t, err)
	e := filterengine.New(frames)

	narrow := models.DefaultFilters()
	narrow.HourFrom, narrow.HourTo = 0, 0

	m := scoremodel.New(4)
	e.Apply(m, narrow)
	e.Apply(m, narrow)
	assert.True(t, m.Mask(0))
	assert.False(t, m.Mask(1))

	// Re-applying a wider filter resets the mask first, so frames excluded
	// by the narrow pass are re-admitted.
	wide := models.DefaultFilters()
	wide.HourFrom, wide.HourTo = 0, 23
	wide.Weekdays[0] = false
	e.Apply(m, wide)
	assert.False(t, m.Mask(0))
	assert.True(t, m.Mask(1))
	assert.True(t, m.Mask(2))
}
