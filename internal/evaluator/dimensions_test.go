package evaluator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultDimensionsSumToOne(t *testing.T) {
	dims := DefaultDimensions()
	require.NotEmpty(t, dims)

	var total float64
	for _, d := range dims {
		require.NotEmpty(t, d.Name)
		total += d.Weight
	}
	require.InDelta(t, 1.0, total, 1e-9)
}

func TestDefaultDimensionsReturnsFreshSlice(t *testing.T) {
	a := DefaultDimensions()
	a[0].Weight = 99
	b := DefaultDimensions()
	require.NotEqual(t, float64(99), b[0].Weight)
}
