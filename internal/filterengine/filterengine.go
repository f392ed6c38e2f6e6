// Package filterengine implements C7: applying calendar and dataset-part
// filters onto a ScoreModel's mask. The is_out-style exclusion closure is
// grounded directly on somhunter.cpp's apply_filters — the four checks
// (weekday, hour range, year range, dataset-part interval) are ported
// verbatim in semantics, expressed as short-circuiting Go rather than a
// lambda.
package filterengine

import (
	"github.com/adverant/somhunter/internal/framestore"
	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/scoremodel"
)

// Engine applies filters to a Model's mask.
type Engine struct {
	frames *framestore.FrameStore
}

// New builds a filter engine bound to a frame catalogue.
func New(frames *framestore.FrameStore) *Engine {
	return &Engine{frames: frames}
}

// Apply sets mask[i]=false for every frame excluded by f. When f is default
// and the dataset carries no temporal metadata, this is a no-op — it does
// not even reset the mask, matching spec.md §4.7. Otherwise the mask is
// always reset before re-applying, so repeated calls with the same filter
// are idempotent.
func (e *Engine) Apply(m *scoremodel.Model, f models.Filters) {
	if f.IsDefault() && !e.frames.HasTemporalMetadata() {
		return
	}

	m.ResetMask()

	datasetFrom, datasetTo := f.DatasetPartsValidInterval(e.frames.Len())

	for _, frame := range e.frames.All() {
		if isOut(frame, f, datasetFrom, datasetTo) {
			m.SetMask(frame.FrameID, false)
		}
	}
}

func isOut(frame models.Frame, f models.Filters, datasetFrom, datasetTo int) bool {
	id := int(frame.FrameID)
	if id < datasetFrom || id >= datasetTo {
		return true
	}
	if !frame.HasTemporalMetadata {
		return false
	}
	if !f.Weekdays[frame.Weekday] {
		return true
	}
	if frame.Hour < f.HourFrom || frame.Hour > f.HourTo {
		return true
	}
	if frame.Year < f.YearFrom || frame.Year > f.YearTo {
		return true
	}
	return false
}
