package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/netdata-proxy/model"
)

func TestValidate(t *testing.T) {
	rows := []model.Row{
		{Dimension: "ok", Value: 1},
		{Dimension: "nan", Value: math.NaN()},
		{Dimension: "inf", Value: math.Inf(1)},
		{Dimension: "neg_inf", Value: math.Inf(-1)},
		{Dimension: "zero", Value: 0},
	}

	got := Validate(rows)

	require.Len(t, got, 2)
	require.Equal(t, "ok", got[0].Dimension)
	require.Equal(t, "zero", got[1].Dimension)
	require.Len(t, rows, 5)
	for _, r := range got {
		require.False(t, math.IsNaN(r.Value) || math.IsInf(r.Value, 0))
	}
}

func TestValidate_Empty(t *testing.T) {
	require.Empty(t, Validate(nil))
}
