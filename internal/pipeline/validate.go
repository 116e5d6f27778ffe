package pipeline

import (
	"math"

	"github.com/and161185/netdata-proxy/model"
)

// Validate returns the rows whose value is a finite number, in their original order.
// It never modifies its input.
func Validate(rows []model.Row) []model.Row {
	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			continue
		}
		out = append(out, r)
	}
	return out
}
