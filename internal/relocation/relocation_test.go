package relocation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/relocation"
)

func TestScoreDelegatesToFeatureStore(t *testing.T) {
	m, err := featurestore.NewMatrix([]float32{1, 0, 0, 1, 1, 0}, 3, 2)
	require.NoError(t, err)

	r := relocation.New(m)
	out := make([]float64, 3)
	require.NoError(t, r.Score(0, out))

	assert.InDelta(t, 0.0, out[0], 1e-6)
	assert.InDelta(t, 1.0, out[1], 1e-6)
	assert.InDelta(t, 0.0, out[2], 1e-6)
}
