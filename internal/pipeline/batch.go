package pipeline

import (
	"strconv"
	"strings"

	"github.com/and161185/netdata-proxy/model"
)

// DefaultBatchSize is the number of rows per record-mutation request.
const DefaultBatchSize = 20

// CoerceBatchSize turns a configured batch size into a usable one:
// anything non-numeric or below 1 becomes 1.
func CoerceBatchSize(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Batch slices rows into contiguous groups of at most size rows.
// The last group may be shorter; a size below 1 is treated as 1.
func Batch(rows []model.Row, size int) [][]model.Row {
	if size < 1 {
		size = 1
	}
	batches := make([][]model.Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		batches = append(batches, rows[start:end:end])
	}
	return batches
}
