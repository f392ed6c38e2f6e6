// Package som implements C8: a background worker training a toroidal
// Kohonen self-organising map over the primary feature space and serving a
// W×H display grid from it. The goroutine-plus-cancel-plus-mutex shape is
// grounded on the teacher's queue consumer (internal/queue/redis_consumer.go
// Start/Stop) and its tracker's sync.RWMutex-guarded state
// (internal/tracking/multi_object_tracker.go), adapted from a task-queue
// worker into a single long-lived retrainable background job.
package som

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/models"
)

// IterBudget is the fixed number of training iterations a single start_work
// call runs before considering the map converged.
const IterBudget = 4000

// LearningRateStart is the initial batch-SOM learning rate; it decays
// linearly to 0 over IterBudget iterations.
const LearningRateStart = 0.5

// Worker trains and serves one toroidal SOM over a fixed W×H grid.
type Worker struct {
	w, h     int
	features *featurestore.Matrix

	mu      sync.RWMutex
	ready   bool
	weights [][]float32          // W*H rows, each features.Dim() wide
	members [][]models.FrameID   // W*H slices: every frame assigned to that cell
	cancel  context.CancelFunc
	seed    int64
}

// New builds a SomWorker over a W×H display grid for the given feature
// space. rngSeed is accepted explicitly (rather than seeding from time) so
// callers get reproducible maps in tests.
func New(w, h int, features *featurestore.Matrix, rngSeed int64) *Worker {
	return &Worker{
		w:        w,
		h:        h,
		features: features,
		seed:     rngSeed,
	}
}

// StartWork cancels any in-flight training job, snapshots the weighting
// vector (the scores used to sample training frames), and begins training a
// fresh map in the background. It returns immediately. Each training run
// gets its own rand source so a cancelled run still draining its last
// iteration never shares one with its replacement.
func (s *Worker) StartWork(scores []float64, mask []bool) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.ready = false
	s.seed++
	rng := rand.New(rand.NewSource(s.seed))
	snapshot := append([]float64(nil), scores...)
	maskSnapshot := append([]bool(nil), mask...)
	s.mu.Unlock()

	go s.train(ctx, rng, snapshot, maskSnapshot)
}

// MapReady reports whether training plus cell assignment has completed
// since the last StartWork call.
func (s *Worker) MapReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// IDErrVal is the sentinel GetDisplay writes for an empty grid cell.
const IDErrVal = models.ErrFrameID

// GetDisplay returns, per cell in row-major order, the highest-scoring
// member frame under the given live scores, or IDErrVal when the cell holds
// no frames. Callers should only call this once MapReady returns true; if
// called before that it serves the previous completed map, or an
// all-sentinel grid if none has ever completed.
func (s *Worker) GetDisplay(scores []float64) []models.FrameID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.FrameID, s.w*s.h)
	for i := range out {
		out[i] = IDErrVal
	}
	if s.members == nil {
		return out
	}
	for cell, frames := range s.members {
		best := IDErrVal
		bestScore := math.Inf(-1)
		for _, f := range frames {
			if int(f) >= len(scores) {
				continue
			}
			if sc := scores[f]; sc > bestScore {
				bestScore = sc
				best = f
			}
		}
		out[cell] = best
	}
	return out
}

func toroidalDist(w, h, cell1, cell2 int) float64 {
	r1, c1 := cell1/w, cell1%w
	r2, c2 := cell2/w, cell2%w
	dr := math.Abs(float64(r1 - r2))
	if dr > float64(h)/2 {
		dr = float64(h) - dr
	}
	dc := math.Abs(float64(c1 - c2))
	if dc > float64(w)/2 {
		dc = float64(w) - dc
	}
	return math.Sqrt(dr*dr + dc*dc)
}

// train runs batch SOM training: frames are sampled proportional to score,
// the best-matching unit is found by cosine similarity, and its
// neighbourhood (a toroidal Gaussian shrinking from max(W,H)/2 to 1) is
// nudged towards the sample. Checked for cancellation between iterations.
func (s *Worker) train(ctx context.Context, rng *rand.Rand, scores []float64, mask []bool) {
	n := s.features.Rows()
	if n == 0 {
		s.finish(nil, nil)
		return
	}
	dim := s.features.Dim()
	numCells := s.w * s.h

	weights := make([][]float32, numCells)
	for i := range weights {
		frame := models.FrameID(rng.Intn(n))
		row, _ := s.features.Row(frame)
		weights[i] = append([]float32(nil), row...)
	}

	sampler := newWeightedSampler(scores, mask)
	if sampler == nil {
		s.finish(weights, s.assign(weights))
		return
	}

	maxRadius := float64(s.w)
	if s.h > s.w {
		maxRadius = float64(s.h)
	}
	maxRadius /= 2
	if maxRadius < 1 {
		maxRadius = 1
	}

	for it := 0; it < IterBudget; it++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		progress := float64(it) / float64(IterBudget)
		radius := maxRadius * (1 - progress)
		if radius < 1 {
			radius = 1
		}
		lr := LearningRateStart * (1 - progress)

		frame := sampler.sample(rng)
		row, err := s.features.Row(frame)
		if err != nil {
			continue
		}

		bmu := bestMatchingUnit(weights, row)
		for cell := range weights {
			d := toroidalDist(s.w, s.h, bmu, cell)
			if d > radius*3 {
				continue
			}
			h := math.Exp(-(d * d) / (2 * radius * radius))
			if h < 1e-6 {
				continue
			}
			nudge := lr * h
			wc := weights[cell]
			for j := 0; j < dim; j++ {
				wc[j] += float32(nudge) * (row[j] - wc[j])
			}
			s.features.NormalizeQuery(wc)
		}
	}

	select {
	case <-ctx.Done():
		return
	default:
	}
	s.finish(weights, s.assign(weights))
}

func bestMatchingUnit(weights [][]float32, row []float32) int {
	best := 0
	bestSim := math.Inf(-1)
	for i, w := range weights {
		var dot float64
		for j := range row {
			dot += float64(w[j]) * float64(row[j])
		}
		if dot > bestSim {
			bestSim = dot
			best = i
		}
	}
	return best
}

// assign does one batch pass resolving every frame in the feature store to
// its best-matching cell under the trained weights.
func (s *Worker) assign(weights [][]float32) [][]models.FrameID {
	members := make([][]models.FrameID, len(weights))
	for i := 0; i < s.features.Rows(); i++ {
		row, err := s.features.Row(models.FrameID(i))
		if err != nil {
			continue
		}
		cell := bestMatchingUnit(weights, row)
		members[cell] = append(members[cell], models.FrameID(i))
	}
	return members
}

func (s *Worker) finish(weights [][]float32, members [][]models.FrameID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = weights
	s.members = members
	s.ready = true
}

// weightedSampler draws frame IDs with probability proportional to score
// among unmasked, positive-score frames.
type weightedSampler struct {
	ids   []models.FrameID
	cumul []float64 // cumulative weight, last entry is the total
}

func newWeightedSampler(scores []float64, mask []bool) *weightedSampler {
	ids := make([]models.FrameID, 0, len(scores))
	cumul := make([]float64, 0, len(scores))
	total := 0.0
	for i, sc := range scores {
		if i < len(mask) && !mask[i] {
			continue
		}
		if sc <= 0 {
			continue
		}
		total += sc
		ids = append(ids, models.FrameID(i))
		cumul = append(cumul, total)
	}
	if total <= 0 || len(ids) == 0 {
		return nil
	}
	return &weightedSampler{ids: ids, cumul: cumul}
}

func (w *weightedSampler) sample(rng *rand.Rand) models.FrameID {
	total := w.cumul[len(w.cumul)-1]
	target := rng.Float64() * total
	lo, hi := 0, len(w.cumul)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if w.cumul[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return w.ids[lo]
}
