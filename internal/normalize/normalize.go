// Package normalize flattens the accepted Netdata payload shapes into canonical rows.
package normalize

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/and161185/netdata-proxy/internal/utils"
	"github.com/and161185/netdata-proxy/model"
)

const (
	// UnknownHost is used when a payload carries no hostname.
	UnknownHost = "unknown"
	// SelfHostPlaceholder is the literal Netdata emits when its hostname template is not expanded.
	SelfHostPlaceholder = "%H"
	// DefaultSelfHostReplacement replaces SelfHostPlaceholder unless configured otherwise.
	DefaultSelfHostReplacement = "netdata-test-env"

	unknownChart     = "unknown"
	unknownChartName = "Unknown Chart"
	defaultChartType = "line"
	defaultDimension = "value"
)

// Precisions of the timestamp representation each sink expects.
const (
	ColumnarPrecision = time.Millisecond
	GraphPrecision    = time.Minute
)

// Normalizer converts classified samples into rows. It holds no per-call state
// and is safe for concurrent use.
type Normalizer struct {
	precision time.Duration
	selfHost  string
	now       func() time.Time
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithClock replaces the clock used for samples without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New returns a Normalizer truncating timestamps to precision and rewriting the
// "%H" hostname placeholder to selfHost.
func New(precision time.Duration, selfHost string, opts ...Option) *Normalizer {
	if precision <= 0 {
		precision = ColumnarPrecision
	}
	if selfHost == "" {
		selfHost = DefaultSelfHostReplacement
	}
	n := &Normalizer{precision: precision, selfHost: selfHost, now: time.Now}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Classify determines the shape of a top-level payload object.
// Order matters: a payload carrying charts is never treated as a flat metric.
func Classify(obj map[string]any) model.Shape {
	if _, ok := obj["charts"].(map[string]any); ok {
		if _, ok := nonEmpty(obj["hostname"]); ok {
			return model.ShapeHostCharts
		}
		return model.ShapeChartsOnly
	}
	return ClassifyElement(obj)
}

// ClassifyElement determines the shape of one element of a JSON array payload.
// Array elements are always single metrics.
func ClassifyElement(obj map[string]any) model.Shape {
	if dimensionMap(obj, "dimensions", "data") != nil {
		return model.ShapeMultiDimension
	}
	return model.ShapeFlat
}

// Normalize flattens samples into rows tagged with agg. Rows may still carry a
// non-finite value; filtering them is the validator's job.
func (n *Normalizer) Normalize(samples []model.RawSample, agg model.Aggregation) []model.Row {
	now := n.now()
	var rows []model.Row
	for _, s := range samples {
		switch s.Shape {
		case model.ShapeHostCharts:
			rows = n.appendCharts(rows, n.hostname(s.Fields), s.Fields, agg, now)
		case model.ShapeChartsOnly:
			rows = n.appendCharts(rows, UnknownHost, s.Fields, agg, now)
		default:
			rows = n.appendMetric(rows, s.Fields, agg, now)
		}
	}
	return rows
}

func (n *Normalizer) appendMetric(rows []model.Row, m map[string]any, agg model.Aggregation, now time.Time) []model.Row {
	chartID := firstString(m, unknownChart, "chart_id", "chart")
	base := model.Row{
		Timestamp:   n.timestamp(m["timestamp"], now),
		Hostname:    n.hostname(m),
		ChartID:     chartID,
		ChartName:   firstString(m, unknownChartName, "chart_name", "title", "chart_id"),
		Units:       optionalString(m["units"]),
		Family:      firstString(m, "", "family"),
		Context:     firstString(m, chartID, "chart_context", "context"),
		ChartType:   firstString(m, defaultChartType, "chart_type", "type"),
		Aggregation: agg,
	}

	if dims := dimensionMap(m, "dimensions", "data"); dims != nil {
		return appendDimensions(rows, base, dims)
	}

	base.Dimension = firstString(m, defaultDimension, "id", "name", "dimension")
	if v, ok := number(m["value"]); ok {
		base.Value = v
	} else {
		base.Value = math.NaN()
	}
	return append(rows, base)
}

func (n *Normalizer) appendCharts(rows []model.Row, host string, payload map[string]any, agg model.Aggregation, now time.Time) []model.Row {
	charts, _ := payload["charts"].(map[string]any)
	for _, chartID := range sortedKeys(charts) {
		block, ok := charts[chartID].(map[string]any)
		if !ok {
			continue
		}
		ts := block["timestamp"]
		if ts == nil {
			ts = block["last_updated"]
		}
		base := model.Row{
			Timestamp:   n.timestamp(ts, now),
			Hostname:    host,
			ChartID:     chartID,
			ChartName:   firstString(block, chartID, "name", "title"),
			Units:       optionalString(block["units"]),
			Family:      firstString(block, "", "family"),
			Context:     firstString(block, chartID, "context"),
			ChartType:   firstString(block, defaultChartType, "chart_type", "type"),
			Aggregation: agg,
		}
		if dims := dimensionMap(block, "data", "dimensions"); dims != nil {
			rows = appendDimensions(rows, base, dims)
		}
	}
	return rows
}

// appendDimensions emits one row per numeric entry; other entries are skipped silently.
func appendDimensions(rows []model.Row, base model.Row, dims map[string]any) []model.Row {
	for _, name := range sortedKeys(dims) {
		v, ok := dimensionValue(dims[name])
		if !ok {
			continue
		}
		r := base
		r.Dimension = name
		r.Value = v
		rows = append(rows, r)
	}
	return rows
}

func (n *Normalizer) hostname(m map[string]any) string {
	h := firstString(m, UnknownHost, "hostname", "host")
	if h == SelfHostPlaceholder {
		return n.selfHost
	}
	return h
}

// timestamp interprets a numeric value as Unix seconds; anything else means "now".
func (n *Normalizer) timestamp(v any, now time.Time) time.Time {
	t := now
	if sec, ok := number(v); ok {
		whole, frac := math.Modf(sec)
		t = time.Unix(int64(whole), int64(frac*float64(time.Second)))
	}
	return t.UTC().Truncate(n.precision)
}

func dimensionMap(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if d, ok := m[k].(map[string]any); ok {
			return d
		}
	}
	return nil
}

// dimensionValue accepts a bare number or a Netdata allmetrics {"value": n} object.
func dimensionValue(v any) (float64, bool) {
	if obj, ok := v.(map[string]any); ok {
		v = obj["value"]
	}
	return number(v)
}

func number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func nonEmpty(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	}
	return "", false
}

func firstString(m map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		if s, ok := nonEmpty(m[k]); ok {
			return s
		}
	}
	return fallback
}

func optionalString(v any) *string {
	if s, ok := nonEmpty(v); ok {
		return utils.Ptr(s)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
