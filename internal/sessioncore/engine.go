package sessioncore

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/adverant/somhunter/internal/canvas"
	"github.com/adverant/somhunter/internal/capselect"
	"github.com/adverant/somhunter/internal/display"
	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/filterengine"
	"github.com/adverant/somhunter/internal/framestore"
	"github.com/adverant/somhunter/internal/keyword"
	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/relocation"
	"github.com/adverant/somhunter/internal/scoremodel"
	"github.com/adverant/somhunter/internal/som"
	"github.com/adverant/somhunter/internal/somherr"
)

// TemporalPower is the exponent ScoreModel.ApplyTemporals uses during
// rescore, per spec.md §4.10 step 4.
const TemporalPower = 50.0

// SubmitResult mirrors the three outcomes an eval-server submission can
// have (spec.md §4.10 submit).
type SubmitResult int

const (
	SubmitCorrect SubmitResult = iota
	SubmitIncorrect
	SubmitNotLoggedIn
)

// EvalClient is the narrow external collaborator submit() delegates to.
type EvalClient interface {
	Submit(frame models.FrameID) (SubmitResult, error)
}

// Logger is the narrow external collaborator rescore/display/session events
// are reported to. A nil Logger is valid; Engine just skips logging.
type Logger interface {
	LogReset()
	LogContextSwitch(index, srcSearchCtxID int)
	LogResults(ev display.ResultLogEvent, plainQuery string, likes models.ShownSet, used models.UsedTools)
	LogLikeToggle(id models.FrameID, liked bool)
	LogBookmarkToggle(id models.FrameID, bookmarked bool)
}

// Config bundles the tunables SessionCore needs beyond what each component
// already owns (spec.md §6 presentation_views plus the display grid size
// SomWorker is built with).
type Config struct {
	Display display.Config
}

// Engine is C10, the single-session top-level orchestrator. Not safe for
// concurrent use from more than one owner goroutine; background SOM workers
// are the only other writers, and they only ever touch their own state.
type Engine struct {
	frames         *framestore.FrameStore
	features       *featurestore.Store
	words          *keyword.Ranker
	wordsSecondary *keyword.Ranker
	canvas         *canvas.Ranker
	reloc    *relocation.Ranker
	filters  *filterengine.Engine
	mainSom  *som.Worker
	momentSom []*som.Worker
	router   *display.Router
	eval     EvalClient
	logger   Logger

	cfg Config
	rng *rand.Rand

	ctx        *SearchContext
	history    []*SearchContext
	bookmarks  models.ShownSet
	videosSeen map[models.VideoID]struct{}
	nextCtxID  int
	targetPosition int
}

// Deps bundles every collaborator Engine needs, constructed once at process
// startup by cmd/somhunterd.
type Deps struct {
	Frames *framestore.FrameStore
	Features *featurestore.Store
	Words    *keyword.Ranker
	// WordsSecondary is the alternative text scoring path over the
	// secondary feature matrix; nil when no secondary matrix is loaded.
	WordsSecondary *keyword.Ranker
	Canvas         *canvas.Ranker
	Reloc     *relocation.Ranker
	MainSom   *som.Worker
	MomentSom []*som.Worker
	Eval      EvalClient
	Logger    Logger
	Config    Config
}

// New builds a fresh session with a uniform score model (every score 1.0) and an
// empty history.
func New(d Deps) *Engine {
	e := &Engine{
		frames:         d.Frames,
		features:       d.Features,
		words:          d.Words,
		wordsSecondary: d.WordsSecondary,
		canvas:         d.Canvas,
		reloc:     d.Reloc,
		filters:   filterengine.New(d.Frames),
		mainSom:   d.MainSom,
		momentSom: d.MomentSom,
		router:    display.New(d.Config.Display, d.Frames),
		eval:      d.Eval,
		logger:    d.Logger,
		cfg:       d.Config,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		bookmarks: make(models.ShownSet),
		videosSeen: make(map[models.VideoID]struct{}),
	}
	e.ctx = newSearchContext(0, d.Frames.Len())
	e.nextCtxID = 1
	e.generateNewTargets()
	return e
}

func (e *Engine) resolve(id models.FrameID) (models.VideoID, models.ShotID) {
	f, err := e.frames.Get(id)
	if err != nil {
		return models.ErrVideoID, 0
	}
	return f.VideoID, f.ShotID
}

// HasMetadata reports whether temporal filtering is available.
func (e *Engine) HasMetadata() bool { return e.frames.HasTemporalMetadata() }

// Ctx returns the live SearchContext. Callers must treat it as read-only;
// every mutation goes through the Engine's own methods.
func (e *Engine) Ctx() *SearchContext { return e.ctx }

// History returns the append-only snapshot list, newest last. Rescore's
// result carries the same list back to the client (spec.md §4.10).
func (e *Engine) History() []*SearchContext { return e.history }

// RescoreResult is what rescore() returns to the caller (spec.md §4.10).
type RescoreResult struct {
	ID             int
	HistorySize    int
	Targets        []models.Frame
	TargetPosition int
}

// Rescore runs the full orchestration described in spec.md §4.10: merge
// relevance feedback, (re)run the ranker phase unless the temporal query
// chain is unchanged, normalise, compose temporal scores, reset the display
// type, filter, apply Bayes, kick off SOM training, and push a history
// snapshot.
func (e *Engine) Rescore(q models.Query, benchmark bool) (RescoreResult, error) {
	if benchmark {
		e.ResetSearchSession()
	}

	// A rescore referencing a history index beyond what this session holds
	// means the client lost sync; report the current state untouched and
	// let it reconcile (spec.md §7 kind 5).
	if q.Metadata.SrcSearchCtxID > len(e.history) {
		return RescoreResult{
			ID:             e.ctx.ID,
			HistorySize:    len(e.history),
			Targets:        e.ctx.Targets,
			TargetPosition: e.targetPosition,
		}, nil
	}

	for id := range q.RelevanceFeedback {
		e.ctx.Likes.Insert(id)
	}

	if !models.EqualTemporalQueries(q.TemporalQueries, e.ctx.LastTemporalQueries) {
		if err := e.runRankerPhase(q.TemporalQueries, q.Metadata.ScoreSecondary); err != nil {
			return RescoreResult{}, err
		}
		e.ctx.LastTemporalQueries = append([]models.TemporalQuery(nil), q.TemporalQueries...)
	}

	e.router.ResetToTopN()

	e.filters.Apply(e.ctx.Model, q.Filters)
	e.ctx.Filters = q.Filters

	likes := e.ctx.Likes.Slice()
	// Bayes feedback is computed relative to what the user has seen. When
	// frames were liked without any display having been paged through, the
	// current top page stands in as the shown baseline.
	if len(likes) > 0 && len(e.ctx.Shown) == 0 {
		top := e.ctx.Model.TopN(e.resolve, e.cfg.Display.TopNLimit, e.cfg.Display.PerVideoCap, e.cfg.Display.PerShotCap)
		if len(top) > e.cfg.Display.PageSize {
			top = top[:e.cfg.Display.PageSize]
		}
		for _, id := range top {
			e.ctx.Shown.Insert(id)
		}
	}
	shown := e.ctx.Shown.Slice()
	if err := e.ctx.Model.ApplyBayes(likes, shown, e.features.Primary); err != nil {
		return RescoreResult{}, err
	}
	e.ctx.Shown = make(models.ShownSet)
	e.ctx.Likes = make(models.ShownSet)

	e.somStart()

	e.ctx.PrevQuery = q
	e.pushHistory()

	if e.logger != nil {
		top := e.ctx.Model.TopN(e.resolve, e.cfg.Display.TopNLimit, e.cfg.Display.PerVideoCap, e.cfg.Display.PerShotCap)
		e.logger.LogResults(display.ResultLogEvent{DisplayType: display.DTopN, TopN: top}, q.PlainTextQuery(), likes32(likes), e.ctx.Model.UsedTools())
	}

	return RescoreResult{
		ID:             e.ctx.ID,
		HistorySize:    len(e.history),
		Targets:        e.ctx.Targets,
		TargetPosition: e.targetPosition,
	}, nil
}

func likes32(ids []models.FrameID) models.ShownSet {
	s := make(models.ShownSet, len(ids))
	for _, id := range ids {
		s.Insert(id)
	}
	return s
}

// runRankerPhase resets the score model, dispatches every non-empty moment
// to its ranker, and composes the temporal fusion (normalize ->
// apply_temporals -> normalize).
func (e *Engine) runRankerPhase(moments []models.TemporalQuery, scoreSecondary bool) error {
	e.ctx.Model.Reset(1.0)

	words := e.words
	if scoreSecondary && e.wordsSecondary != nil {
		words = e.wordsSecondary
	}

	var ut models.UsedTools
	nonEmpty := 0
	for i, m := range moments {
		if i >= scoremodel.MaxTemporalSize {
			return somherr.New(somherr.KindConfiguration, fmt.Sprintf("temporal query chain longer than %d", scoremodel.MaxTemporalSize))
		}
		if m.Empty() {
			continue
		}
		nonEmpty++

		switch m.Kind {
		case models.MomentText:
			matched, err := words.Score(m.Text, e.ctx.Model.Temp(i))
			if err != nil {
				return fmt.Errorf("sessioncore: text ranker: %w", err)
			}
			if matched {
				ut.TextUsed = true
			}
		case models.MomentCanvas:
			matched, err := e.canvas.Score(m.Canvas, true, e.ctx.Model.Temp(i))
			if err != nil {
				return fmt.Errorf("sessioncore: canvas ranker: %w", err)
			}
			if matched {
				ut.CanvasUsed = true
			}
		case models.MomentRelocation:
			if err := e.reloc.Score(m.Relocation, e.ctx.Model.Temp(i)); err != nil {
				return fmt.Errorf("sessioncore: relocation ranker: %w", err)
			}
			ut.RelocationUsed = true
		}
	}
	if nonEmpty > 1 {
		ut.TemporalQueryUsed = true
	}
	e.ctx.Model.MarkUsedTools(ut)
	e.ctx.TemporalSize = len(moments)

	e.ctx.Model.Normalize(e.ctx.TemporalSize)
	next := scoremodel.NewNextResolver(e.frames.NextInVideoAfter)
	e.ctx.Model.ApplyTemporals(e.ctx.TemporalSize, next, TemporalPower)
	e.ctx.Model.Normalize(e.ctx.TemporalSize)
	return nil
}

// somStart kicks off the main SOM worker over the finalised scores, and a
// per-moment worker for every active temporal moment over its inverse-score
// row — mirroring som_start() in the original orchestrator.
func (e *Engine) somStart() {
	mask := make([]bool, e.frames.Len())
	for i := 0; i < e.frames.Len(); i++ {
		mask[i] = e.ctx.Model.Mask(models.FrameID(i))
	}
	e.mainSom.StartWork(e.ctx.Model.Scores(), mask)
	for k := 0; k < e.ctx.TemporalSize && k < len(e.momentSom); k++ {
		e.momentSom[k].StartWork(e.ctx.Model.Temp(k), mask)
	}
}

// pushHistory stamps ctx with the next snapshot ID, syncs the derived
// fields (display state, used tools) and appends a deep copy to history
// (spec.md §4.10 step 9), so ctx and history.back() stay deeply equal.
func (e *Engine) pushHistory() {
	e.ctx.DisplayState = e.router.Snapshot()
	e.ctx.UsedTools = e.ctx.Model.UsedTools()
	e.ctx.ID = e.nextCtxID
	e.nextCtxID++
	e.history = append(e.history, e.ctx.Clone())
}

// LikeFrames toggles each id in ctx.likes, returning the post-toggle liked
// state for each input.
func (e *Engine) LikeFrames(ids []models.FrameID) []bool {
	out := make([]bool, len(ids))
	for i, id := range ids {
		_, already := e.ctx.Likes[id]
		if already {
			delete(e.ctx.Likes, id)
		} else {
			e.ctx.Likes.Insert(id)
		}
		out[i] = !already
		if e.logger != nil {
			e.logger.LogLikeToggle(id, out[i])
		}
	}
	return out
}

// BookmarkFrames toggles each id in the persistent (cross-rescore) bookmark
// set, identically to LikeFrames.
func (e *Engine) BookmarkFrames(ids []models.FrameID) []bool {
	out := make([]bool, len(ids))
	for i, id := range ids {
		_, already := e.bookmarks[id]
		if already {
			delete(e.bookmarks, id)
		} else {
			e.bookmarks.Insert(id)
		}
		out[i] = !already
		if e.logger != nil {
			e.logger.LogBookmarkToggle(id, out[i])
		}
	}
	return out
}

// GetDisplay dispatches to DisplayRouter and relays its result-log event, if
// any, to the configured Logger.
func (e *Engine) GetDisplay(req display.Request) ([]models.FrameID, error) {
	deps := display.Deps{
		Model:     e.ctx.Model,
		Resolve:   capselect.VideoShotOf(e.resolve),
		Shown:     e.ctx.Shown,
		Features:  e.features.Primary,
		MainSom:   e.mainSom,
		MomentSom: e.momentSom,
		Rng:       e.rng.Float64,
	}
	frames, ev, err := e.router.GetDisplay(req, deps)
	if err != nil {
		return nil, err
	}
	if req.Kind == display.DVideoDetail && len(frames) > 0 {
		v, _ := e.resolve(req.Selected)
		e.videosSeen[v] = struct{}{}
	}
	if ev != nil && e.logger != nil {
		e.logger.LogResults(*ev, e.ctx.PrevQuery.PlainTextQuery(), e.ctx.Likes, e.ctx.Model.UsedTools())
	}
	return frames, nil
}

// SwitchSearchContext blocks until the main SOM worker is ready, optionally
// persists a screenshot into the source context, then replaces ctx with a
// deep copy of history[index] and restarts SOM workers over it.
func (e *Engine) SwitchSearchContext(index int, srcSearchCtxID int, screenshotPath, label string) (*SearchContext, error) {
	if srcSearchCtxID >= 0 && srcSearchCtxID < len(e.history) && e.history[srcSearchCtxID].ScreenshotPath == "" {
		e.history[srcSearchCtxID].Label = label
		e.history[srcSearchCtxID].ScreenshotPath = screenshotPath
	}
	if index < 0 || index >= len(e.history) {
		return nil, somherr.New(somherr.KindOutOfRange, fmt.Sprintf("history index %d out of bounds", index))
	}

	for !e.mainSom.MapReady() {
		time.Sleep(10 * time.Millisecond)
	}

	if e.logger != nil {
		e.logger.LogContextSwitch(index, srcSearchCtxID)
	}

	e.ctx = e.history[index].Clone()
	e.router.Restore(e.ctx.DisplayState)
	e.somStart()
	e.router.ForceResultLog()

	return e.ctx, nil
}

// ResetSearchSession clears shown/likes/the temporal-query cache, resets the
// score model to uniform, restarts SOM training, regenerates known-item
// targets, then runs a phony empty-query rescore to produce the initial
// display.
func (e *Engine) ResetSearchSession() {
	e.ctx.Shown = make(models.ShownSet)
	e.ctx.Likes = make(models.ShownSet)
	e.ctx.LastTemporalQueries = nil
	e.ctx.Model.Reset(1.0)
	if e.logger != nil {
		e.logger.LogReset()
	}
	e.somStart()
	e.generateNewTargets()

	// phony rescore: a single empty moment, default filters, no relevance
	// feedback.
	_, _ = e.Rescore(models.Query{
		TemporalQueries: []models.TemporalQuery{{}},
		Filters:         models.DefaultFilters(),
	}, false)
}

// Submit forwards a known-item guess to the eval client.
func (e *Engine) Submit(frame models.FrameID) (SubmitResult, error) {
	if e.eval == nil {
		return SubmitNotLoggedIn, nil
	}
	return e.eval.Submit(frame)
}

// AutocompleteKeywords delegates to KeywordRanker.Find.
func (e *Engine) AutocompleteKeywords(prefix string, count int) []models.KeywordID {
	return e.words.Find(prefix, count)
}

// numTargetFrames is the fixed window length generate_new_targets samples
// (spec.md §4 supplement, ported from generate_new_targets in the original
// orchestrator).
const numTargetFrames = 5

// generateNewTargets picks a random contiguous run of numTargetFrames
// frames from a single video to serve as the session's known-item target.
// Unlike the original C++ (whose retry loop never actually retries), this
// resamples up to 1000 times for a run that stays within one video; if none
// is found, the session has no targets.
func (e *Engine) generateNewTargets() {
	n := e.frames.Len()
	if n < numTargetFrames {
		e.ctx.Targets = nil
		e.targetPosition = 0
		return
	}

	for attempt := 0; attempt < 1000; attempt++ {
		start := models.FrameID(e.rng.Intn(n - numTargetFrames + 1))
		first, err := e.frames.Get(start)
		if err != nil {
			continue
		}
		ok := true
		frames := make([]models.Frame, numTargetFrames)
		for i := 0; i < numTargetFrames; i++ {
			f, err := e.frames.Get(start + models.FrameID(i))
			if err != nil || f.VideoID != first.VideoID {
				ok = false
				break
			}
			frames[i] = f
		}
		if ok {
			e.ctx.Targets = frames
			e.targetPosition = e.rng.Intn(numTargetFrames)
			return
		}
	}
	e.ctx.Targets = nil
	e.targetPosition = 0
}
