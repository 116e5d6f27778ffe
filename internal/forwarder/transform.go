package forwarder

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/and161185/netdata-proxy/model"
)

// Transform flattens per-host charts into one FlatMetric per dimension value.
// Dimensions without a numeric value are skipped. Output is ordered by host,
// chart and dimension.
func Transform(data HostCharts, now time.Time) []model.FlatMetric {
	var metrics []model.FlatMetric
	for _, host := range sortedKeys(data) {
		charts := data[host]
		for _, chartID := range sortedKeys(charts) {
			c := charts[chartID]
			if len(c.Dimensions) == 0 {
				continue
			}

			base := model.FlatMetric{
				Timestamp: chartTimestamp(c.LastUpdated, now),
				Hostname:  host,
				ChartID:   chartID,
				ChartName: orDefault(c.Name, chartID),
				Units:     c.Units,
				Family:    c.Family,
				Context:   orDefault(c.Context, chartID),
				ChartType: orDefault(c.ChartType, "line"),
			}

			for _, dim := range sortedKeys(c.Dimensions) {
				v, ok := dimensionValue(c.Dimensions[dim])
				if !ok {
					continue
				}
				m := base
				m.ID = dim
				m.Value = v
				metrics = append(metrics, m)
			}
		}
	}
	return metrics
}

func chartTimestamp(n json.Number, now time.Time) int64 {
	if n != "" {
		if f, err := n.Float64(); err == nil && f > 0 {
			return int64(f)
		}
	}
	return now.Unix()
}

// dimensionValue reads {"value": n}; n may also be a numeric string.
func dimensionValue(raw json.RawMessage) (float64, bool) {
	var dim struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal(raw, &dim); err != nil {
		return 0, false
	}
	var f float64
	switch v := dim.Value.(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, !math.IsNaN(f) && !math.IsInf(f, 0)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
