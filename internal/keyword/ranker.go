// Package keyword implements C3: turning free text into a score vector via
// a bag-of-words projection into the shared embedding space, plus prefix
// autocomplete over the lexicon. The numeric pipeline (sum rows, bias, tanh,
// PCA project, L2-normalize) is grounded the same way the teacher's
// similarity package turns raw signal into a fixed-width embedding before
// ever touching FeatureStore (similarity/video_embedder.go,
// similarity/scene_embedder.go), just with a linear projection instead of a
// remote model call.
package keyword

import (
	"fmt"
	"math"
	"strings"

	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/models"
)

// DefaultOperator is the token that additionally splits a query into
// additive word groups, on top of whitespace.
const DefaultOperator = "+"

// Ranker scores free text against a feature space via a learned
// keyword -> embedding projection.
type Ranker struct {
	keywords []models.Keyword
	wordToID map[string]models.KeywordID // lowercased synset string -> keyword

	projection [][]float32 // len(keywords) rows, each preDim wide
	bias       []float32   // preDim
	pcaMean    []float32   // preDim
	pcaMat     [][]float32 // dim rows, each preDim wide (dim x preDim)

	preDim int
	dim    int

	operator string
	features *featurestore.Matrix
}

// Config bundles the matrices a Ranker is built from (spec.md §6
// datasets.primary_features.{kw_*}).
type Config struct {
	Keywords   []models.Keyword
	Projection [][]float32 // one row per keyword, width PreDim
	Bias       []float32
	PCAMean    []float32
	PCAMat     [][]float32 // Dim rows, each width PreDim
	PreDim     int
	Dim        int
	Operator   string // "" defaults to DefaultOperator
}

// New builds a keyword ranker bound to a specific feature matrix (primary or
// secondary — the engine may hold two rankers sharing this type).
func New(cfg Config, features *featurestore.Matrix) (*Ranker, error) {
	if len(cfg.Keywords) != len(cfg.Projection) {
		return nil, fmt.Errorf("keyword: %d keywords but %d projection rows", len(cfg.Keywords), len(cfg.Projection))
	}
	if len(cfg.Bias) != cfg.PreDim || len(cfg.PCAMean) != cfg.PreDim {
		return nil, fmt.Errorf("keyword: bias/mean length must equal pre-PCA dim %d", cfg.PreDim)
	}
	if len(cfg.PCAMat) != cfg.Dim {
		return nil, fmt.Errorf("keyword: PCA matrix must have %d rows", cfg.Dim)
	}
	op := cfg.Operator
	if op == "" {
		op = DefaultOperator
	}

	r := &Ranker{
		keywords:   cfg.Keywords,
		wordToID:   make(map[string]models.KeywordID, len(cfg.Keywords)*2),
		projection: cfg.Projection,
		bias:       cfg.Bias,
		pcaMean:    cfg.PCAMean,
		pcaMat:     cfg.PCAMat,
		preDim:     cfg.PreDim,
		dim:        cfg.Dim,
		operator:   op,
		features:   features,
	}
	for _, kw := range cfg.Keywords {
		for _, s := range kw.SynsetStrs {
			r.wordToID[strings.ToLower(s)] = kw.ID
		}
	}
	return r, nil
}

// Keyword returns the lexicon entry at the given ID, used by
// SessionCore.AutocompleteKeywords to resolve IDs back to full entries.
func (r *Ranker) Keyword(id models.KeywordID) (models.Keyword, bool) {
	if int(id) < 0 || int(id) >= len(r.keywords) {
		return models.Keyword{}, false
	}
	return r.keywords[id], true
}

// parse splits free text on whitespace and the operator token, dropping any
// word not present in the lexicon.
func (r *Ranker) parse(text string) []models.KeywordID {
	var matched []models.KeywordID
	for _, tok := range strings.Fields(text) {
		for _, word := range strings.Split(tok, r.operator) {
			word = strings.TrimSpace(word)
			if word == "" {
				continue
			}
			id, ok := r.wordToID[strings.ToLower(word)]
			if !ok {
				continue
			}
			matched = append(matched, id)
		}
	}
	return matched
}

// Embed runs the text -> embedding half of the pipeline (parse, sum keyword
// rows, bias, tanh, PCA-project, L2-normalize) without delegating to
// FeatureStore. CanvasRanker reuses it for text sub-queries so the
// projection logic has exactly one implementation.
//
// It returns ok=false when no token in text resolved to a known keyword.
func (r *Ranker) Embed(text string) (vec []float32, ok bool) {
	ids := r.parse(text)
	if len(ids) == 0 {
		return nil, false
	}

	pre := make([]float32, r.preDim)
	for _, id := range ids {
		row := r.projection[id]
		for j, v := range row {
			pre[j] += v
		}
	}
	for j := range pre {
		pre[j] += r.bias[j]
		pre[j] = float32(math.Tanh(float64(pre[j])))
	}

	centered := make([]float32, r.preDim)
	for j := range pre {
		centered[j] = pre[j] - r.pcaMean[j]
	}

	out := make([]float32, r.dim)
	for i := 0; i < r.dim; i++ {
		row := r.pcaMat[i]
		var sum float32
		for j, v := range row {
			sum += v * centered[j]
		}
		out[i] = sum
	}
	r.features.NormalizeQuery(out)
	return out, true
}

// Score runs the full text-query pipeline and delegates to
// FeatureStore.ScoreVs.
//
// It returns matched=false (leaving outInvScores unwritten) when no token in text resolved
// to a known keyword — the caller must leave that temporal moment untouched
// rather than writing a zero-information score.
func (r *Ranker) Score(text string, outInvScores []float64) (matched bool, err error) {
	vec, ok := r.Embed(text)
	if !ok {
		return false, nil
	}
	if err := r.features.ScoreVs(vec, outInvScores); err != nil {
		return false, err
	}
	return true, nil
}
