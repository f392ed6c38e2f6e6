// Package capselect implements the per-video / per-shot presentation caps
// shared by FeatureStore.TopKNN (§4.2) and ScoreModel.TopN (§4.6). Both walk
// a list of candidate frames already in their desired priority order and
// skip any frame that would push a video or a shot over its cap; a cap of 0
// means "uncapped".
package capselect

import "github.com/adverant/somhunter/internal/models"

// VideoShotOf resolves a frame to the (video, shot) pair its caps are keyed
// on.
type VideoShotOf func(models.FrameID) (models.VideoID, models.ShotID)

// Select walks candidates in order, keeping up to limit frames while
// respecting perVideoCap and perShotCap (0 = uncapped). The caps are a
// policy, not a hard filter: if too few candidates remain, the result is
// simply shorter than limit.
func Select(candidates []models.FrameID, resolve VideoShotOf, limit, perVideoCap, perShotCap int) []models.FrameID {
	if limit <= 0 {
		return nil
	}

	videoCount := make(map[models.VideoID]int)
	type shotKey struct {
		v models.VideoID
		s models.ShotID
	}
	shotCount := make(map[shotKey]int)

	out := make([]models.FrameID, 0, limit)
	for _, id := range candidates {
		if len(out) >= limit {
			break
		}
		v, s := resolve(id)
		if perVideoCap > 0 && videoCount[v] >= perVideoCap {
			continue
		}
		key := shotKey{v, s}
		if perShotCap > 0 && shotCount[key] >= perShotCap {
			continue
		}
		out = append(out, id)
		videoCount[v]++
		shotCount[key]++
	}
	return out
}
