// Package framestore holds the immutable frame catalogue (C1). It is built
// once at engine construction from the frames-list file and lives for the
// whole process; every operation is O(1) and returns live references into
// the catalogue, never copies.
package framestore

import (
	"fmt"

	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/somherr"
)

// FrameStore is the read-only frame catalogue. Frames sharing a VideoID are
// stored contiguously, ascending by FrameNumber — callers rely on this to
// slice `all_frames_of_video` as a plain range.
type FrameStore struct {
	frames []models.Frame

	// videoRange maps a VideoID to the half-open [start, end) index range
	// into frames holding that video's frames.
	videoRange map[models.VideoID][2]int

	hasTemporalMetadata bool
}

// New builds a FrameStore from an already-ordered frame slice. Callers doing
// file loading (out of scope for the core, per spec.md §1) are expected to
// produce frames grouped by VideoID and ordered by FrameNumber; New rejects
// frames whose FrameNumber does not strictly ascend within a run of frames
// sharing a VideoID, rather than re-sorting, since re-sorting would silently
// hide a loader bug. It does not check that VideoIDs themselves are sorted or
// that a video's frames form a single run.
func New(frames []models.Frame) (*FrameStore, error) {
	fs := &FrameStore{
		frames:     frames,
		videoRange: make(map[models.VideoID][2]int, 64),
	}

	var curVideo models.VideoID
	start := 0
	haveCur := false
	for i, f := range frames {
		if f.HasTemporalMetadata {
			fs.hasTemporalMetadata = true
		}
		if !haveCur {
			curVideo = f.VideoID
			start = i
			haveCur = true
			continue
		}
		if f.VideoID != curVideo {
			fs.videoRange[curVideo] = [2]int{start, i}
			curVideo = f.VideoID
			start = i
			continue
		}
		if f.FrameNumber <= frames[i-1].FrameNumber {
			return nil, somherr.New(somherr.KindConfiguration,
				fmt.Sprintf("frame %d out of order within video %d", f.FrameID, f.VideoID))
		}
	}
	if haveCur {
		fs.videoRange[curVideo] = [2]int{start, len(frames)}
	}

	return fs, nil
}

// Len returns the total number of frames (N in spec.md).
func (fs *FrameStore) Len() int { return len(fs.frames) }

// HasTemporalMetadata reports whether any frame carries weekday/hour/year
// metadata — drives SessionCore.HasMetadata.
func (fs *FrameStore) HasTemporalMetadata() bool { return fs.hasTemporalMetadata }

// Get returns the frame with the given ID.
func (fs *FrameStore) Get(id models.FrameID) (models.Frame, error) {
	if int(id) < 0 || int(id) >= len(fs.frames) {
		return models.Frame{}, somherr.New(somherr.KindOutOfRange, fmt.Sprintf("frame id %d out of range", id))
	}
	return fs.frames[id], nil
}

// MustGet is like Get but panics on an invariant violation (an internal
// caller handed an ID that was never validated at the public boundary).
func (fs *FrameStore) MustGet(id models.FrameID) models.Frame {
	f, err := fs.Get(id)
	if err != nil {
		panic(err)
	}
	return f
}

// VideoOf returns the VideoID owning a frame.
func (fs *FrameStore) VideoOf(id models.FrameID) models.VideoID {
	if int(id) < 0 || int(id) >= len(fs.frames) {
		return models.ErrVideoID
	}
	return fs.frames[id].VideoID
}

// AllFramesOfVideo returns the contiguous, ascending-by-frame-number range of
// frames belonging to a video. The returned slice is a live view into the
// catalogue and must not be mutated.
func (fs *FrameStore) AllFramesOfVideo(v models.VideoID) []models.Frame {
	r, ok := fs.videoRange[v]
	if !ok {
		return nil
	}
	return fs.frames[r[0]:r[1]]
}

// IDsToFrames resolves a batch of frame IDs to their Frame values, skipping
// IDs equal to models.ErrFrameID (an SOM-display empty-cell sentinel).
func (fs *FrameStore) IDsToFrames(ids []models.FrameID) []models.Frame {
	out := make([]models.Frame, 0, len(ids))
	for _, id := range ids {
		if id == models.ErrFrameID {
			continue
		}
		f, err := fs.Get(id)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// All returns the whole catalogue as a live slice.
func (fs *FrameStore) All() []models.Frame { return fs.frames }

// NextInVideoAfter returns the frame ID immediately following `after` within
// the same video as `id`, or models.ErrFrameID if `id` is the last frame of
// its video. Used by ScoreModel.ApplyTemporals to walk the "best match in
// window" chain.
func (fs *FrameStore) NextInVideoAfter(id models.FrameID) models.FrameID {
	if int(id) < 0 || int(id) >= len(fs.frames)-1 {
		return models.ErrFrameID
	}
	next := fs.frames[id+1]
	if next.VideoID != fs.frames[id].VideoID {
		return models.ErrFrameID
	}
	return next.FrameID
}
