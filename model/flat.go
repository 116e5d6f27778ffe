package model

// FlatMetric is the flat-metric wire shape produced by the forwarder.
// The proxy reads the dimension name from ID.
type FlatMetric struct {
	Timestamp int64   `json:"timestamp"`
	Hostname  string  `json:"hostname"`
	ChartID   string  `json:"chart_id"`
	ChartName string  `json:"chart_name"`
	ID        string  `json:"id"`
	Value     float64 `json:"value"`
	Units     string  `json:"units"`
	Family    string  `json:"family"`
	Context   string  `json:"context"`
	ChartType string  `json:"chart_type"`
}
