// Package display implements C9: the state machine over the seven display
// kinds, paging, shown-set bookkeeping and the result-log side channel that
// fires when the user backs out of a query-by-example view. It is
// grounded directly on somhunter.cpp's get_display and the seven
// get_*_display methods it dispatches to; the switch-over-an-enum-plus-
// cached-list shape is kept, just split into named Go methods instead of one
// 400-line function.
package display

import (
	"fmt"

	"github.com/adverant/somhunter/internal/capselect"
	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/framestore"
	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/scoremodel"
	"github.com/adverant/somhunter/internal/som"
)

// Kind enumerates the seven display states.
type Kind int

const (
	DRand Kind = iota
	DTopN
	DTopNContext
	DSom
	DRelocation
	DVideoDetail
	DTopKNN
)

// Config bundles the presentation-layer tunables (spec.md §6
// presentation_views).
type Config struct {
	PageSize     int
	TopNLimit    int
	PerVideoCap  int
	PerShotCap   int
	RandomTemp   float64
	GridW, GridH int
}

// ResultLogEvent is emitted when a display transition (or a forced
// re-log) requires the result-log side channel to fire. SessionCore fills
// in the query text and likes before handing this to the logger.
type ResultLogEvent struct {
	DisplayType Kind
	TopN        []models.FrameID
}

// Router is the per-session display state machine.
type Router struct {
	cfg    Config
	frames *framestore.FrameStore

	currDispType   Kind
	currentDisplay []models.FrameID
	forceResultLog bool
}

// New builds a display router for one session.
func New(cfg Config, frames *framestore.FrameStore) *Router {
	return &Router{cfg: cfg, frames: frames, currDispType: DTopN}
}

// CurrentType returns the active display kind.
func (r *Router) CurrentType() Kind { return r.currDispType }

// State is a deep-copyable snapshot of the router's mutable fields, pushed
// onto SessionCore's history alongside the ScoreModel it was computed from.
type State struct {
	CurrDispType   Kind
	CurrentDisplay []models.FrameID
	ForceResultLog bool
}

// Snapshot captures the router's current state.
func (r *Router) Snapshot() State {
	return State{
		CurrDispType:   r.currDispType,
		CurrentDisplay: append([]models.FrameID(nil), r.currentDisplay...),
		ForceResultLog: r.forceResultLog,
	}
}

// Restore replaces the router's state with a previously captured snapshot.
func (r *Router) Restore(s State) {
	r.currDispType = s.CurrDispType
	r.currentDisplay = append([]models.FrameID(nil), s.CurrentDisplay...)
	r.forceResultLog = s.ForceResultLog
}

// ForceResultLog marks that the next GetDisplay call must emit a result-log
// event regardless of the transition rule, used by SwitchSearchContext
// (spec.md §4.10).
func (r *Router) ForceResultLog() { r.forceResultLog = true }

// ResetToTopN forces the display type back to DTopN, clearing any pending
// KNN-context flag — called at the start of every rescore (spec.md §4.10
// step 5).
func (r *Router) ResetToTopN() { r.currDispType = DTopN }

// Deps bundles the collaborators GetDisplay needs, so the call site reads
// as one value rather than several positional parameters.
type Deps struct {
	Model     *scoremodel.Model
	Resolve   capselect.VideoShotOf
	Shown     models.ShownSet
	Features  *featurestore.Matrix
	MainSom   *som.Worker
	MomentSom []*som.Worker // indexed by temporal moment, for DRelocation
	Rng       func() float64
}

// Request selects a display and the arguments its kind needs: Selected
// addresses a frame for DVideoDetail/DTopKNN, TempID selects the per-moment
// SOM worker for DRelocation, Page and LogIt apply to the paged kinds.
type Request struct {
	Kind     Kind
	Selected models.FrameID
	TempID   int
	Page     int
	LogIt    bool
}

// GetDisplay dispatches to the requested display kind, updates the router's
// state and the shared shown set, and reports whether a result-log event
// should fire (per the KNN -> {TopN,TopNContext,Rand,Som} transition rule,
// or when ForceResultLog was set).
func (r *Router) GetDisplay(req Request, deps Deps) ([]models.FrameID, *ResultLogEvent, error) {
	prev := r.currDispType

	var (
		out []models.FrameID
		err error
	)
	switch req.Kind {
	case DRand:
		out = r.random(deps)
	case DTopN:
		out = r.topN(deps, req.Page)
	case DTopNContext:
		out = r.topNContext(deps, req.Page)
	case DSom:
		out = r.somDisplay(deps)
	case DRelocation:
		out, err = r.relocationDisplay(deps, req.TempID)
	case DVideoDetail:
		out = r.videoDetail(deps, req.Selected)
	case DTopKNN:
		out, err = r.topKNN(deps, req.Selected, req.Page)
	default:
		return nil, nil, fmt.Errorf("display: unsupported kind %d", req.Kind)
	}
	if err != nil {
		return nil, nil, err
	}

	var ev *ResultLogEvent
	curr := r.currDispType
	shouldLog := r.forceResultLog ||
		(prev == DTopKNN && (curr == DTopN || curr == DTopNContext || curr == DRand || curr == DSom))
	if shouldLog {
		r.forceResultLog = false
		topN := deps.Model.TopN(deps.Resolve, r.cfg.TopNLimit, r.cfg.PerVideoCap, r.cfg.PerShotCap)
		ev = &ResultLogEvent{DisplayType: curr, TopN: topN}
	}

	return out, ev, nil
}

func (r *Router) random(deps Deps) []models.FrameID {
	ids := deps.Model.WeightedSample(r.cfg.GridW*r.cfg.GridH, r.cfg.RandomTemp, deps.Rng)
	for _, id := range ids {
		deps.Shown.Insert(id)
	}
	r.currentDisplay = ids
	r.currDispType = DRand
	return ids
}

func (r *Router) topN(deps Deps, page int) []models.FrameID {
	if r.currDispType != DTopN || page == 0 {
		ids := deps.Model.TopN(deps.Resolve, r.cfg.TopNLimit, r.cfg.PerVideoCap, r.cfg.PerShotCap)
		r.currentDisplay = ids
		r.currDispType = DTopN
	}
	return r.page(page, deps.Shown)
}

func (r *Router) topNContext(deps Deps, page int) []models.FrameID {
	if r.currDispType != DTopNContext || page == 0 {
		ids := deps.Model.TopNWithContext(deps.Resolve,
			scoremodel.NewNextResolver(r.frames.NextInVideoAfter),
			r.prevInVideo,
			r.cfg.TopNLimit, r.cfg.PerVideoCap, r.cfg.PerShotCap)
		r.currentDisplay = ids
		r.currDispType = DTopNContext
	}
	return r.page(page, deps.Shown)
}

func (r *Router) prevInVideo(id models.FrameID) models.FrameID {
	f, err := r.frames.Get(id)
	if err != nil {
		return models.ErrFrameID
	}
	video := r.frames.AllFramesOfVideo(f.VideoID)
	for i, vf := range video {
		if vf.FrameID == id {
			if i == 0 {
				return models.ErrFrameID
			}
			return video[i-1].FrameID
		}
	}
	return models.ErrFrameID
}

func (r *Router) somDisplay(deps Deps) []models.FrameID {
	if deps.MainSom == nil || !deps.MainSom.MapReady() {
		return nil
	}
	ids := deps.MainSom.GetDisplay(deps.Model.Scores())
	for _, id := range ids {
		deps.Shown.Insert(id)
	}
	r.currentDisplay = ids
	r.currDispType = DSom
	return ids
}

func (r *Router) relocationDisplay(deps Deps, tempID int) ([]models.FrameID, error) {
	if tempID < 0 || tempID >= len(deps.MomentSom) {
		return nil, fmt.Errorf("display: temporal moment %d out of range", tempID)
	}
	worker := deps.MomentSom[tempID]
	if !worker.MapReady() {
		return nil, nil
	}
	ids := worker.GetDisplay(deps.Model.Scores())
	for _, id := range ids {
		deps.Shown.Insert(id)
	}
	r.currentDisplay = ids
	r.currDispType = DRelocation
	return ids, nil
}

func (r *Router) videoDetail(deps Deps, selected models.FrameID) []models.FrameID {
	video := r.frames.VideoOf(selected)
	if video == models.ErrVideoID {
		return nil
	}
	frames := r.frames.AllFramesOfVideo(video)
	ids := make([]models.FrameID, len(frames))
	for i, f := range frames {
		ids[i] = f.FrameID
		deps.Shown.Insert(f.FrameID)
	}
	r.currentDisplay = ids
	r.currDispType = DVideoDetail
	return ids
}

func (r *Router) topKNN(deps Deps, selected models.FrameID, page int) ([]models.FrameID, error) {
	if r.currDispType != DTopKNN || page == 0 {
		ids, err := deps.Features.TopKNN(selected, deps.Resolve, r.cfg.TopNLimit, r.cfg.PerVideoCap, r.cfg.PerShotCap)
		if err != nil {
			return nil, err
		}
		r.currentDisplay = ids
		r.currDispType = DTopKNN
		// Query-by-example always forces a fresh result log, even when
		// this call lands on a later page (spec.md §4.9).
		r.forceResultLog = true
	}
	return r.page(page, deps.Shown), nil
}

// page slices currentDisplay without re-ranking, and records every
// non-sentinel frame returned as shown.
func (r *Router) page(page int, shown models.ShownSet) []models.FrameID {
	size := r.cfg.PageSize
	begin := page * size
	if begin > len(r.currentDisplay) {
		begin = len(r.currentDisplay)
	}
	end := begin + size
	if end > len(r.currentDisplay) {
		end = len(r.currentDisplay)
	}
	out := r.currentDisplay[begin:end]
	for _, id := range out {
		shown.Insert(id)
	}
	return out
}
