// Package model contains core data types for the project.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Aggregation is the statistical reduction a row represents.
// It is only meaningful for the record-mutation sink.
type Aggregation string

const (
	AggregationNone   Aggregation = ""       // No aggregation tag (columnar sinks).
	AggregationAvg    Aggregation = "AVG"    // Average over the reporting window.
	AggregationMax    Aggregation = "MAX"    // Maximum over the reporting window.
	AggregationMedian Aggregation = "MEDIAN" // Median over the reporting window.
)

// ParseAggregation maps a case-insensitive name ("avg", "max", "median") to an Aggregation.
func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(strings.ToUpper(strings.TrimSpace(s))) {
	case AggregationAvg:
		return AggregationAvg, nil
	case AggregationMax:
		return AggregationMax, nil
	case AggregationMedian:
		return AggregationMedian, nil
	case AggregationNone:
		return AggregationNone, nil
	}
	return AggregationNone, fmt.Errorf("unknown aggregation %q", s)
}

// Shape identifies which of the accepted payload layouts a RawSample uses.
type Shape int

const (
	ShapeFlat           Shape = iota // Single metric with one value.
	ShapeMultiDimension              // Single metric with a dimensions/data map.
	ShapeHostCharts                  // {hostname, charts: {...}}
	ShapeChartsOnly                  // {charts: {...}}, hostname defaults to "unknown".
)

func (s Shape) String() string {
	switch s {
	case ShapeFlat:
		return "flat"
	case ShapeMultiDimension:
		return "multi-dimension"
	case ShapeHostCharts:
		return "host-with-charts"
	case ShapeChartsOnly:
		return "charts-only"
	}
	return "unknown"
}

// RawSample is one decoded payload unit together with its classified shape.
// Fields holds the decoded JSON object as-is.
type RawSample struct {
	Shape  Shape
	Fields map[string]any
}

// Row is the canonical, normalized measurement delivered to a sink.
type Row struct {
	Timestamp   time.Time   `json:"timestamp"`
	Hostname    string      `json:"hostname"`
	ChartID     string      `json:"chart_id"`
	ChartName   string      `json:"chart_name"`
	Dimension   string      `json:"dimension"`
	Value       float64     `json:"value"`
	Units       *string     `json:"units"`
	Family      string      `json:"family"`
	Context     string      `json:"context"`
	ChartType   string      `json:"chart_type"`
	Aggregation Aggregation `json:"aggregation,omitempty"`
}
