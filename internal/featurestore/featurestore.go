// Package featurestore implements C2: the primary/secondary feature
// matrices and the cosine-similarity machinery every ranker (C3-C5) builds
// on. Matrices are loaded once, L2-normalized, and shared read-only across
// goroutines for the life of the process — the same "immutable after
// construction" contract the teacher gives its feature embedders
// (similarity/video_embedder.go, similarity/scene_embedder.go).
package featurestore

import (
	"fmt"
	"math"
	"sort"

	"github.com/adverant/somhunter/internal/capselect"
	"github.com/adverant/somhunter/internal/models"
)

// Matrix is an N x D row-major float32 feature matrix with every row
// L2-normalized at construction time.
type Matrix struct {
	rows int
	dim  int
	data []float32
}

// NewMatrix builds a Matrix from already-flattened row-major data and
// normalizes every row in place. data must have len == rows*dim.
func NewMatrix(data []float32, rows, dim int) (*Matrix, error) {
	if rows < 0 || dim <= 0 {
		return nil, fmt.Errorf("featurestore: invalid matrix shape %dx%d", rows, dim)
	}
	if len(data) != rows*dim {
		return nil, fmt.Errorf("featurestore: data length %d does not match %dx%d", len(data), rows, dim)
	}
	m := &Matrix{rows: rows, dim: dim, data: data}
	for i := 0; i < rows; i++ {
		m.normalizeRow(i)
	}
	return m, nil
}

func (m *Matrix) normalizeRow(i int) {
	row := m.row(i)
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

func (m *Matrix) row(i int) []float32 {
	return m.data[i*m.dim : (i+1)*m.dim]
}

// Rows returns the number of rows (should equal FrameStore.Len()).
func (m *Matrix) Rows() int { return m.rows }

// Dim returns the embedding dimensionality.
func (m *Matrix) Dim() int { return m.dim }

// Row returns the L2-normalized feature row for a frame. The returned slice
// aliases the matrix's storage and must not be mutated by callers.
func (m *Matrix) Row(id models.FrameID) ([]float32, error) {
	if int(id) < 0 || int(id) >= m.rows {
		return nil, fmt.Errorf("featurestore: frame id %d out of range", id)
	}
	return m.row(int(id)), nil
}

// NormalizeQuery L2-normalizes an arbitrary query vector of this matrix's
// dimensionality in place.
func (m *Matrix) NormalizeQuery(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}

// cosine computes the cosine similarity of two already L2-normalized
// vectors, i.e. their plain dot product.
func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// ScoreVs writes 1 - cos(query, row_i) into outInvScores for every frame,
// per spec.md §4.2. outInvScores must have length Rows().
func (m *Matrix) ScoreVs(query []float32, outInvScores []float64) error {
	if len(query) != m.dim {
		return fmt.Errorf("featurestore: query dim %d does not match matrix dim %d", len(query), m.dim)
	}
	if len(outInvScores) != m.rows {
		return fmt.Errorf("featurestore: output length %d does not match row count %d", len(outInvScores), m.rows)
	}
	for i := 0; i < m.rows; i++ {
		outInvScores[i] = 1 - cosine(query, m.row(i))
	}
	return nil
}

// ScoreVsFrame is a convenience wrapper scoring against another frame's own
// row (used by the relocation ranker).
func (m *Matrix) ScoreVsFrame(example models.FrameID, outInvScores []float64) error {
	row, err := m.Row(example)
	if err != nil {
		return err
	}
	return m.ScoreVs(row, outInvScores)
}

type scored struct {
	id  models.FrameID
	sim float64
}

// TopKNN ranks every frame by cosine similarity to `example`'s row and
// returns them with the §4.9 presentation caps applied. Ties break on lower
// FrameID.
func (m *Matrix) TopKNN(exampleFrameID models.FrameID, resolve capselect.VideoShotOf, limit, perVideoCap, perShotCap int) ([]models.FrameID, error) {
	row, err := m.Row(exampleFrameID)
	if err != nil {
		return nil, err
	}

	cands := make([]scored, m.rows)
	for i := 0; i < m.rows; i++ {
		cands[i] = scored{id: models.FrameID(i), sim: cosine(row, m.row(i))}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].sim != cands[j].sim {
			return cands[i].sim > cands[j].sim
		}
		return cands[i].id < cands[j].id
	})

	ordered := make([]models.FrameID, len(cands))
	for i, c := range cands {
		ordered[i] = c.id
	}

	if limit <= 0 || limit > len(ordered) {
		limit = len(ordered)
	}
	return capselect.Select(ordered, resolve, limit, perVideoCap, perShotCap), nil
}

// Store bundles the primary and optional secondary feature matrices the
// engine loads once at startup (spec.md §3 FeatureMatrix).
type Store struct {
	Primary   *Matrix
	Secondary *Matrix // nil if no secondary text-scoring path is configured
}
