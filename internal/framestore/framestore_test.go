package framestore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/somhunter/internal/framestore"
	"github.com/adverant/somhunter/internal/models"
)

func sampleFrames() []models.Frame {
	return []models.Frame{
		{FrameID: 0, VideoID: 1, ShotID: 1, FrameNumber: 0},
		{FrameID: 1, VideoID: 1, ShotID: 1, FrameNumber: 1},
		{FrameID: 2, VideoID: 1, ShotID: 2, FrameNumber: 2},
		{FrameID: 3, VideoID: 2, ShotID: 3, FrameNumber: 0},
		{FrameID: 4, VideoID: 2, ShotID: 3, FrameNumber: 1},
	}
}

func TestNewAndGet(t *testing.T) {
	fs, err := framestore.New(sampleFrames())
	require.NoError(t, err)
	assert.Equal(t, 5, fs.Len())

	f, err := fs.Get(2)
	require.NoError(t, err)
	assert.Equal(t, models.VideoID(1), f.VideoID)

	_, err = fs.Get(99)
	assert.Error(t, err)
}

func TestVideoOfAndAllFramesOfVideo(t *testing.T) {
	fs, err := framestore.New(sampleFrames())
	require.NoError(t, err)

	assert.Equal(t, models.VideoID(1), fs.VideoOf(0))
	assert.Equal(t, models.VideoID(2), fs.VideoOf(4))
	assert.Equal(t, models.ErrVideoID, fs.VideoOf(99))

	v1 := fs.AllFramesOfVideo(1)
	require.Len(t, v1, 3)
	assert.Equal(t, models.FrameID(0), v1[0].FrameID)

	v2 := fs.AllFramesOfVideo(2)
	require.Len(t, v2, 2)

	assert.Nil(t, fs.AllFramesOfVideo(999))
}

func TestNextInVideoAfter(t *testing.T) {
	fs, err := framestore.New(sampleFrames())
	require.NoError(t, err)

	assert.Equal(t, models.FrameID(1), fs.NextInVideoAfter(0))
	assert.Equal(t, models.ErrFrameID, fs.NextInVideoAfter(2)) // last of video 1
	assert.Equal(t, models.ErrFrameID, fs.NextInVideoAfter(4)) // last overall
}

func TestNewRejectsOutOfOrderFrames(t *testing.T) {
	frames := sampleFrames()
	frames[1].FrameNumber = 0 // now out of order vs. frames[0]
	_, err := framestore.New(frames)
	assert.Error(t, err)
}

func TestIDsToFramesSkipsSentinel(t *testing.T) {
	fs, err := framestore.New(sampleFrames())
	require.NoError(t, err)

	got := fs.IDsToFrames([]models.FrameID{0, models.ErrFrameID, 3, 999})
	require.Len(t, got, 2)
	assert.Equal(t, models.FrameID(0), got[0].FrameID)
	assert.Equal(t, models.FrameID(3), got[1].FrameID)
}

func TestHasTemporalMetadata(t *testing.T) {
	fs, err := framestore.New(sampleFrames())
	require.NoError(t, err)
	assert.False(t, fs.HasTemporalMetadata())

	withMeta := sampleFrames()
	withMeta[0].HasTemporalMetadata = true
	fs2, err := framestore.New(withMeta)
	require.NoError(t, err)
	assert.True(t, fs2.HasTemporalMetadata())
}
