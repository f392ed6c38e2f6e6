// Package canvas implements C4: scoring a frame against a positioned canvas
// query. Each sub-query (free text or bitmap, anchored to a rectangle) is
// embedded into the shared feature space and compared against the frame
// region its rectangle overlaps most. The per-region tensor and the external
// image encoder are grounded the same way the teacher treats its embedding
// backends in similarity/search_api.go: pure collaborators the ranker calls
// through a narrow interface, never owns.
package canvas

import (
	"fmt"
	"math"

	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/keyword"
	"github.com/adverant/somhunter/internal/models"
)

// ImageEncoder turns a decoded bitmap sub-query into a feature-space vector.
// Implementations call out to whatever model or service produces image
// embeddings; the ranker only ever sees the resulting vector.
type ImageEncoder interface {
	Encode(b *models.Bitmap) ([]float32, error)
}

// RegionTensor holds a frame x regions x dim tensor: one feature row per
// fixed grid cell of every frame, used for rectangle-aware canvas scoring.
// The grid is shared across all frames (spec.md §4.4 "fixed grid overlapping
// the frame").
type RegionTensor struct {
	numFrames  int
	numRegions int
	dim        int
	data       []float32 // numFrames*numRegions*dim, L2-normalized per region row
	rects      []models.Rect
}

// NewRegionTensor builds a RegionTensor from flattened row-major data and
// normalizes every region row in place.
func NewRegionTensor(data []float32, numFrames int, rects []models.Rect, dim int) (*RegionTensor, error) {
	numRegions := len(rects)
	if numFrames < 0 || numRegions == 0 || dim <= 0 {
		return nil, fmt.Errorf("canvas: invalid region tensor shape frames=%d regions=%d dim=%d", numFrames, numRegions, dim)
	}
	if len(data) != numFrames*numRegions*dim {
		return nil, fmt.Errorf("canvas: region tensor data length %d does not match %dx%dx%d", len(data), numFrames, numRegions, dim)
	}
	t := &RegionTensor{numFrames: numFrames, numRegions: numRegions, dim: dim, data: data, rects: rects}
	for i := 0; i < numFrames*numRegions; i++ {
		t.normalizeRow(i)
	}
	return t, nil
}

func (t *RegionTensor) normalizeRow(i int) {
	row := t.rowAt(i)
	var sumSq float64
	for _, v := range row {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	inv := float32(1.0 / norm)
	for j := range row {
		row[j] *= inv
	}
}

func (t *RegionTensor) rowAt(i int) []float32 {
	return t.data[i*t.dim : (i+1)*t.dim]
}

// region returns the feature row for a given frame's region.
func (t *RegionTensor) region(frame models.FrameID, region int) []float32 {
	return t.rowAt(int(frame)*t.numRegions + region)
}

// bestRegion returns the region of frame whose fixed rectangle has maximum
// IoU against rect, along with its feature row.
func (t *RegionTensor) bestRegion(frame models.FrameID, rect models.Rect) []float32 {
	best := 0
	bestIoU := -1.0
	for i, r := range t.rects {
		iou := rect.IoU(r)
		if iou > bestIoU {
			bestIoU = iou
			best = i
		}
	}
	return t.region(frame, best)
}

// Ranker scores frames against positioned canvas queries.
type Ranker struct {
	words   *keyword.Ranker
	images  ImageEncoder
	regions *RegionTensor
	whole   *featurestore.Matrix // whole-frame embeddings, used in positionless mode
}

// New builds a canvas ranker. images may be nil if the query set never
// carries bitmap sub-queries; regions may be nil if only positionless
// scoring is ever requested.
func New(words *keyword.Ranker, images ImageEncoder, regions *RegionTensor, whole *featurestore.Matrix) *Ranker {
	return &Ranker{words: words, images: images, regions: regions, whole: whole}
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// embed resolves one sub-query to a feature vector, delegating text to the
// keyword ranker's projection and bitmaps to the image encoder.
func (r *Ranker) embed(sub models.CanvasSubquery) ([]float32, bool, error) {
	if sub.IsText {
		vec, ok := r.words.Embed(sub.Text)
		return vec, ok, nil
	}
	if r.images == nil {
		return nil, false, fmt.Errorf("canvas: bitmap sub-query but no image encoder configured")
	}
	vec, err := r.images.Encode(sub.Bitmap)
	if err != nil {
		return nil, false, fmt.Errorf("canvas: encoding bitmap sub-query: %w", err)
	}
	r.whole.NormalizeQuery(vec)
	return vec, true, nil
}

// Score accumulates 1-cos(sub_query, region) over every sub-query of subs
// and writes the sum into outInvScores, one entry per frame. positioned
// selects rectangle-aware region scoring; when false every sub-query is
// compared against the frame's whole embedding instead (spec.md §4.4).
//
// matched is false only when every sub-query failed to embed (e.g. a text
// sub-query whose words are all out-of-lexicon) — the caller must then leave
// that temporal moment untouched, mirroring KeywordRanker.Score.
func (r *Ranker) Score(subs []models.CanvasSubquery, positioned bool, outInvScores []float64) (matched bool, err error) {
	if positioned && r.regions == nil {
		return false, fmt.Errorf("canvas: positioned scoring requested but no region tensor configured")
	}

	for i := range outInvScores {
		outInvScores[i] = 0
	}

	any := false
	for _, sub := range subs {
		vec, ok, err := r.embed(sub)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		any = true

		if !positioned {
			inv := make([]float64, r.whole.Rows())
			if err := r.whole.ScoreVs(vec, inv); err != nil {
				return false, err
			}
			for i := range outInvScores {
				outInvScores[i] += inv[i]
			}
			continue
		}

		for frame := 0; frame < r.regions.numFrames; frame++ {
			row := r.regions.bestRegion(models.FrameID(frame), sub.Rect)
			outInvScores[frame] += 1 - cosine(vec, row)
		}
	}

	if !any {
		return false, nil
	}
	return true, nil
}
