package models

// UsedTools records which query mechanisms contributed to the current score,
// purely for logging/analytics — it never feeds back into scoring.
type UsedTools struct {
	TextUsed          bool
	CanvasUsed        bool
	RelocationUsed    bool
	TemporalQueryUsed bool
	BayesUsed         bool
	TopKNNUsed        bool
	Filters           *Filters
}

// Reset clears every flag, used at the start of a rescore.
func (u *UsedTools) Reset() {
	*u = UsedTools{}
}

// Equal reports whether two usage records match, comparing the optional
// Filters snapshot by value rather than by pointer.
func (u UsedTools) Equal(o UsedTools) bool {
	if u.TextUsed != o.TextUsed || u.CanvasUsed != o.CanvasUsed ||
		u.RelocationUsed != o.RelocationUsed || u.TemporalQueryUsed != o.TemporalQueryUsed ||
		u.BayesUsed != o.BayesUsed || u.TopKNNUsed != o.TopKNNUsed {
		return false
	}
	if (u.Filters == nil) != (o.Filters == nil) {
		return false
	}
	return u.Filters == nil || *u.Filters == *o.Filters
}
