// Package scoremodel implements C6, the arithmetic heart of the engine: the
// mutable score vector, its mask, per-moment temporal inverse-score rows,
// normalisation, temporal fusion, the Bayesian relevance update, and the
// capped top-N/weighted-sample/rank selections every display reads from. The
// dense-array-plus-mutation style is grounded on the teacher's tracking
// package (internal/tracking/multi_object_tracker.go), which keeps its own
// per-object numeric state behind a small set of named mutator methods
// rather than exposing the arrays directly.
package scoremodel

import (
	"fmt"
	"math"
	"sort"

	"github.com/adverant/somhunter/internal/capselect"
	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/models"
)

// MaxTemporalSize mirrors models.MaxTemporalSize so callers of this package
// can size temporal rows without importing models for the constant.
const MaxTemporalSize = models.MaxTemporalSize

// Model is C6: N-length score/mask vectors plus MaxTemporalSize per-moment
// inverse-score rows. Not safe for concurrent use — the owner thread
// mutates it; snapshots for other goroutines are plain value copies of the
// slices (see Clone).
type Model struct {
	n int

	scores []float64
	mask   []bool
	temp   [MaxTemporalSize][]float64

	usedTools models.UsedTools

	cachedTopN    []models.FrameID
	cachedTopNKey topNKey
	haveCache     bool
}

type topNKey struct {
	limit, perVideoCap, perShotCap int
}

// New allocates a Model for n frames, already reset to v=1.0.
func New(n int) *Model {
	m := &Model{n: n}
	for k := range m.temp {
		m.temp[k] = make([]float64, n)
	}
	m.scores = make([]float64, n)
	m.mask = make([]bool, n)
	m.Reset(1.0)
	return m
}

// Len returns N.
func (m *Model) Len() int { return m.n }

// Clone deep-copies the model, used when pushing a SearchContext snapshot
// onto history and when restoring one on switch_search_context.
func (m *Model) Clone() *Model {
	out := &Model{
		n:         m.n,
		scores:    append([]float64(nil), m.scores...),
		mask:      append([]bool(nil), m.mask...),
		usedTools: m.usedTools,
	}
	for k := range m.temp {
		out.temp[k] = append([]float64(nil), m.temp[k]...)
	}
	return out
}

// Equal reports whether two models hold byte-for-byte identical scores,
// masks and temporal rows (spec.md §8 round-trip property).
func (m *Model) Equal(o *Model) bool {
	if m.n != o.n {
		return false
	}
	for i := range m.scores {
		if m.scores[i] != o.scores[i] || m.mask[i] != o.mask[i] {
			return false
		}
	}
	for k := range m.temp {
		for i := range m.temp[k] {
			if m.temp[k][i] != o.temp[k][i] {
				return false
			}
		}
	}
	return true
}

// UsedTools returns the accumulated tool-usage flags for the current scoring
// pass.
func (m *Model) UsedTools() models.UsedTools { return m.usedTools }

// MarkUsedTools ORs extra flags into the current usage record; rankers
// report what they touched through SessionCore rather than importing this
// package, so SessionCore relays the result here.
func (m *Model) MarkUsedTools(u models.UsedTools) {
	m.usedTools.TextUsed = m.usedTools.TextUsed || u.TextUsed
	m.usedTools.CanvasUsed = m.usedTools.CanvasUsed || u.CanvasUsed
	m.usedTools.RelocationUsed = m.usedTools.RelocationUsed || u.RelocationUsed
	m.usedTools.TemporalQueryUsed = m.usedTools.TemporalQueryUsed || u.TemporalQueryUsed
	m.usedTools.BayesUsed = m.usedTools.BayesUsed || u.BayesUsed
	m.invalidateCache()
}

// Temp returns the live inverse-score row a ranker should write into for
// temporal moment k. The caller (SessionCore) is responsible for calling
// invalidateCache indirectly via Normalize/ApplyTemporals afterwards.
func (m *Model) Temp(k int) []float64 { return m.temp[k] }

// Scores returns the live composed score row. Callers must not mutate it.
func (m *Model) Scores() []float64 { return m.scores }

// Reset sets scores[i]=v and every temp[k][i]=v, clears the mask to admit
// all frames, and clears used-tool bookkeeping.
func (m *Model) Reset(v float64) {
	for i := range m.scores {
		m.scores[i] = v
		m.mask[i] = true
	}
	for k := range m.temp {
		for i := range m.temp[k] {
			m.temp[k][i] = v
		}
	}
	m.usedTools = models.UsedTools{}
	m.invalidateCache()
}

// ResetMask sets mask[i]=true for all frames.
func (m *Model) ResetMask() {
	for i := range m.mask {
		m.mask[i] = true
	}
	m.invalidateCache()
}

// SetMask updates a single frame's mask entry.
func (m *Model) SetMask(i models.FrameID, v bool) {
	m.mask[i] = v
	m.invalidateCache()
}

// Mask reports whether a frame is currently admitted.
func (m *Model) Mask(i models.FrameID) bool { return m.mask[i] }

// Normalize rescales each of the first kActive temporal rows to sum to 1.0
// over unmasked frames, leaving all-zero rows untouched.
func (m *Model) Normalize(kActive int) {
	for k := 0; k < kActive; k++ {
		row := m.temp[k]
		var sum float64
		for i, v := range row {
			if m.mask[i] {
				sum += v
			}
		}
		if sum <= 0 {
			continue
		}
		inv := 1.0 / sum
		for i := range row {
			if m.mask[i] {
				row[i] *= inv
			} else {
				row[i] = 0
			}
		}
	}
	m.invalidateCache()
}

// ApplyTemporals composes scores[i] = product over k<kActive of
// exp(-power * temp[k][best_match_in_window(i,k)]), per spec.md §4.6.
// frames resolves the same-video successor chain.
func (m *Model) ApplyTemporals(kActive int, frames *framestoreNextResolver, power float64) {
	for i := range m.scores {
		if !m.mask[i] {
			m.scores[i] = 0
			continue
		}
		if kActive == 0 {
			m.scores[i] = 1
			continue
		}

		// The first moment is anchored to the frame itself; later moments
		// are minimised over every later-in-video frame, chaining forward.
		cur := models.FrameID(i)
		product := math.Exp(-power * m.temp[0][cur])
		ok := true
		for k := 1; k < kActive; k++ {
			best, found := bestMatchInWindow(m.temp[k], frames, cur)
			if !found {
				ok = false
				break
			}
			cur = best
			product *= math.Exp(-power * m.temp[k][best])
		}
		if !ok {
			m.scores[i] = 0
			continue
		}
		m.scores[i] = product
	}
	m.invalidateCache()
}

// bestMatchInWindow finds the minimum-inverse-score frame in the same video
// as `from`, strictly after it, scanning to the end of the video. Returns
// found=false when `from` is already the last frame of its video.
func bestMatchInWindow(row []float64, frames *framestoreNextResolver, from models.FrameID) (models.FrameID, bool) {
	cur := frames.NextInVideoAfter(from)
	if cur == models.ErrFrameID {
		return models.ErrFrameID, false
	}
	best := cur
	bestVal := row[cur]
	for {
		next := frames.NextInVideoAfter(cur)
		if next == models.ErrFrameID {
			break
		}
		cur = next
		if row[cur] < bestVal {
			bestVal = row[cur]
			best = cur
		}
	}
	return best, true
}

// framestoreNextResolver is the minimal surface ApplyTemporals needs from
// FrameStore, kept as its own type so this package does not import
// framestore just for one method (avoids a dependency edge the arithmetic
// core has no other reason to carry).
type framestoreNextResolver struct {
	next func(models.FrameID) models.FrameID
}

// NewNextResolver adapts any "next frame in video" function (FrameStore's
// NextInVideoAfter) into the resolver ApplyTemporals expects.
func NewNextResolver(next func(models.FrameID) models.FrameID) *framestoreNextResolver {
	return &framestoreNextResolver{next: next}
}

func (r *framestoreNextResolver) NextInVideoAfter(id models.FrameID) models.FrameID {
	return r.next(id)
}

func softmaxWeight(x float64) float64 {
	return math.Exp(x)
}

// ApplyBayes multiplies scores[i] by the product, over every liked frame l,
// of softmax_weight(cos(row_i,row_l) - cos(row_s,row_l)) aggregated over the
// shown set s (spec.md §4.6). No-op when likes is empty; marks
// used_tools.bayes_used when it runs. The caller is responsible for handing
// in a non-empty shown baseline when likes are present — SessionCore seeds
// it from the current top page when nothing has been displayed yet.
func (m *Model) ApplyBayes(likes, shown []models.FrameID, features *featurestore.Matrix) error {
	if len(likes) == 0 {
		return nil
	}

	likeRows := make([][]float32, len(likes))
	for i, l := range likes {
		row, err := features.Row(l)
		if err != nil {
			return fmt.Errorf("scoremodel: resolving like frame: %w", err)
		}
		likeRows[i] = row
	}
	shownRows := make([][]float32, len(shown))
	for i, s := range shown {
		row, err := features.Row(s)
		if err != nil {
			return fmt.Errorf("scoremodel: resolving shown frame: %w", err)
		}
		shownRows[i] = row
	}

	for i := range m.scores {
		if !m.mask[i] {
			continue
		}
		row, err := features.Row(models.FrameID(i))
		if err != nil {
			return fmt.Errorf("scoremodel: resolving frame %d: %w", i, err)
		}

		factor := 1.0
		for _, lRow := range likeRows {
			cosIL := dot32(row, lRow)
			for _, sRow := range shownRows {
				cosSL := dot32(sRow, lRow)
				factor *= softmaxWeight(cosIL - cosSL)
			}
		}
		m.scores[i] *= factor
	}

	m.usedTools.BayesUsed = true
	m.invalidateCache()
	return nil
}

func dot32(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func (m *Model) invalidateCache() {
	m.haveCache = false
	m.cachedTopN = nil
}

// TopN returns up to limit frame IDs in descending score, applying the
// per-video/per-shot presentation caps. Ties break on lower FrameID. The
// result is cached until the next mutation.
func (m *Model) TopN(resolve capselect.VideoShotOf, limit, perVideoCap, perShotCap int) []models.FrameID {
	key := topNKey{limit, perVideoCap, perShotCap}
	if m.haveCache && m.cachedTopNKey == key {
		return m.cachedTopN
	}

	ordered := m.orderedFrames()
	if limit <= 0 || limit > len(ordered) {
		limit = len(ordered)
	}
	out := capselect.Select(ordered, resolve, limit, perVideoCap, perShotCap)

	m.cachedTopN = out
	m.cachedTopNKey = key
	m.haveCache = true
	return out
}

// orderedFrames returns every unmasked frame with positive score sorted by
// descending score, tie-broken by ascending FrameID.
func (m *Model) orderedFrames() []models.FrameID {
	type scored struct {
		id    models.FrameID
		score float64
	}
	cands := make([]scored, 0, m.n)
	for i, s := range m.scores {
		if !m.mask[i] || s <= 0 {
			continue
		}
		cands = append(cands, scored{id: models.FrameID(i), score: s})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})
	out := make([]models.FrameID, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

// TopNWithContext is like TopN but splices each selected frame's immediate
// same-video temporal neighbours in beside it, preserving order.
func (m *Model) TopNWithContext(resolve capselect.VideoShotOf, nextResolver *framestoreNextResolver, prevResolver func(models.FrameID) models.FrameID, limit, perVideoCap, perShotCap int) []models.FrameID {
	anchors := m.TopN(resolve, limit, perVideoCap, perShotCap)
	out := make([]models.FrameID, 0, len(anchors)*3)
	seen := make(map[models.FrameID]bool, len(anchors)*3)
	add := func(id models.FrameID) {
		if id == models.ErrFrameID || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, a := range anchors {
		if prevResolver != nil {
			add(prevResolver(a))
		}
		add(a)
		if nextResolver != nil {
			add(nextResolver.NextInVideoAfter(a))
		}
	}
	return out
}

// FrameRank returns a frame's 0-based position in the same descending sort
// TopN uses, ignoring presentation caps.
func (m *Model) FrameRank(id models.FrameID) int {
	ordered := m.orderedFrames()
	for i, f := range ordered {
		if f == id {
			return i
		}
	}
	return -1
}

// WeightedSample draws k distinct frame IDs without replacement with
// probability proportional to scores[i]^temperature among unmasked frames,
// using Efraimidis-Spirakis weighted reservoir sampling so no full
// permutation is needed. rng is an injected [0,1) source so the caller
// controls determinism for tests.
func (m *Model) WeightedSample(k int, temperature float64, rng func() float64) []models.FrameID {
	type keyed struct {
		id  models.FrameID
		key float64
	}
	cands := make([]keyed, 0, m.n)
	for i, s := range m.scores {
		if !m.mask[i] || s <= 0 {
			continue
		}
		w := math.Pow(s, temperature)
		if w <= 0 {
			continue
		}
		u := rng()
		if u <= 0 {
			u = 1e-12
		}
		key := math.Pow(u, 1.0/w)
		cands = append(cands, keyed{id: models.FrameID(i), key: key})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].key > cands[j].key })
	if k > len(cands) {
		k = len(cands)
	}
	out := make([]models.FrameID, k)
	for i := 0; i < k; i++ {
		out[i] = cands[i].id
	}
	return out
}
