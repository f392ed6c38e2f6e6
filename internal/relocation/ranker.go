// Package relocation implements C5: query-by-example scoring, reusing
// whatever frame the user points at as the query vector for the rest of the
// feature space. The entire ranker is a thin, named wrapper around
// FeatureStore.ScoreVsFrame — grounded the same way the teacher's similarity
// package wraps Qdrant's own nearest-neighbor search behind a named method
// (similarity/search_api.go SearchScenes) rather than inlining it at every
// call site.
package relocation

import (
	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/models"
)

// Ranker scores frames against an example frame's own feature row.
type Ranker struct {
	features *featurestore.Matrix
}

// New builds a relocation ranker bound to a specific feature matrix.
func New(features *featurestore.Matrix) *Ranker {
	return &Ranker{features: features}
}

// Score writes 1-cos(example, frame_i) into outInvScores for every frame.
func (r *Ranker) Score(example models.FrameID, outInvScores []float64) error {
	return r.features.ScoreVsFrame(example, outInvScores)
}
