// Package sessioncore implements C10: the top-level orchestrator tying
// every other component into rescore/display/session-switch operations. The
// owner-thread-plus-background-workers shape and the snapshot-on-mutation
// history are grounded on how the teacher's video processor owns a
// MultiObjectTracker and a set of background clients without ever sharing
// mutable state across a goroutine boundary (processor/video_processor.go),
// adapted here into a user-facing interactive session instead of a batch
// job.
package sessioncore

import (
	"github.com/adverant/somhunter/internal/display"
	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/scoremodel"
)

// SearchContext is one full snapshot of session state (spec.md §3). Two
// SearchContexts compare equal iff every field does.
type SearchContext struct {
	ID                int
	Model             *scoremodel.Model
	Likes             models.ShownSet
	Shown             models.ShownSet
	LastTemporalQueries []models.TemporalQuery
	Filters           models.Filters
	UsedTools         models.UsedTools
	DisplayState      display.State
	TemporalSize      int
	PrevQuery         models.Query
	ScreenshotPath    string
	Label             string
	Targets           []models.Frame
}

// newSearchContext builds the zero-value session state for n frames.
func newSearchContext(id, n int) *SearchContext {
	return &SearchContext{
		ID:         id,
		Model:      scoremodel.New(n),
		Likes:      make(models.ShownSet),
		Shown:      make(models.ShownSet),
		Filters:    models.DefaultFilters(),
		DisplayState: display.State{CurrDispType: display.DTopN},
	}
}

// Clone deep-copies a SearchContext, used for history snapshots and for
// restoring a prior context on switch_search_context.
func (c *SearchContext) Clone() *SearchContext {
	out := &SearchContext{
		ID:           c.ID,
		Model:        c.Model.Clone(),
		Likes:        c.Likes.Clone(),
		Shown:        c.Shown.Clone(),
		Filters:      c.Filters,
		UsedTools:    c.UsedTools,
		DisplayState: c.DisplayState,
		TemporalSize: c.TemporalSize,
		PrevQuery:    c.PrevQuery,
		ScreenshotPath: c.ScreenshotPath,
		Label:        c.Label,
		Targets:      append([]models.Frame(nil), c.Targets...),
	}
	out.DisplayState.CurrentDisplay = append([]models.FrameID(nil), c.DisplayState.CurrentDisplay...)
	out.LastTemporalQueries = append([]models.TemporalQuery(nil), c.LastTemporalQueries...)
	return out
}

// Equal reports deep equality between two SearchContexts over every field
// spec.md §3 lists (spec.md §8 invariant 2), comparing scores byte-for-byte.
func (c *SearchContext) Equal(o *SearchContext) bool {
	if c.ID != o.ID || c.TemporalSize != o.TemporalSize ||
		c.Filters != o.Filters ||
		c.ScreenshotPath != o.ScreenshotPath || c.Label != o.Label {
		return false
	}
	if !c.Model.Equal(o.Model) {
		return false
	}
	if !c.UsedTools.Equal(o.UsedTools) {
		return false
	}
	if len(c.Likes) != len(o.Likes) || len(c.Shown) != len(o.Shown) {
		return false
	}
	for id := range c.Likes {
		if _, ok := o.Likes[id]; !ok {
			return false
		}
	}
	for id := range c.Shown {
		if _, ok := o.Shown[id]; !ok {
			return false
		}
	}
	if c.DisplayState.CurrDispType != o.DisplayState.CurrDispType {
		return false
	}
	if len(c.DisplayState.CurrentDisplay) != len(o.DisplayState.CurrentDisplay) {
		return false
	}
	for i := range c.DisplayState.CurrentDisplay {
		if c.DisplayState.CurrentDisplay[i] != o.DisplayState.CurrentDisplay[i] {
			return false
		}
	}
	if len(c.Targets) != len(o.Targets) {
		return false
	}
	for i := range c.Targets {
		if c.Targets[i] != o.Targets[i] {
			return false
		}
	}
	return models.EqualTemporalQueries(c.LastTemporalQueries, o.LastTemporalQueries) &&
		c.PrevQuery.Equal(o.PrevQuery)
}
