package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/netdata-proxy/model"
)

func makeRows(n int) []model.Row {
	rows := make([]model.Row, n)
	for i := range rows {
		rows[i] = model.Row{Dimension: fmt.Sprintf("d%d", i), Value: float64(i)}
	}
	return rows
}

func TestBatch_PreservesOrderAndRows(t *testing.T) {
	for _, n := range []int{0, 1, 19, 20, 21, 45} {
		for _, size := range []int{1, 3, 20, 100} {
			t.Run(fmt.Sprintf("rows_%d_size_%d", n, size), func(t *testing.T) {
				rows := makeRows(n)
				batches := Batch(rows, size)

				require.Len(t, batches, (n+size-1)/size)
				var flat []model.Row
				for i, b := range batches {
					require.LessOrEqual(t, len(b), size)
					if i < len(batches)-1 {
						require.Len(t, b, size)
					}
					flat = append(flat, b...)
				}
				if n == 0 {
					require.Empty(t, flat)
					return
				}
				require.Equal(t, rows, flat)
			})
		}
	}
}

func TestBatch_NonPositiveSizeIsOne(t *testing.T) {
	rows := makeRows(3)
	for _, size := range []int{0, -5} {
		batches := Batch(rows, size)
		require.Len(t, batches, 3)
		for _, b := range batches {
			require.Len(t, b, 1)
		}
	}
}

func TestBatch_AppendDoesNotClobberNextBatch(t *testing.T) {
	rows := makeRows(4)
	batches := Batch(rows, 2)
	_ = append(batches[0], model.Row{Dimension: "extra"})
	require.Equal(t, "d2", batches[1][0].Dimension)
}

func TestCoerceBatchSize(t *testing.T) {
	cases := map[string]int{
		"20":  20,
		" 5 ": 5,
		"0":   1,
		"-3":  1,
		"abc": 1,
		"":    1,
		"2.5": 1,
	}
	for in, want := range cases {
		require.Equal(t, want, CoerceBatchSize(in), "input %q", in)
	}
}
