package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeliverySummary_Fold(t *testing.T) {
	r1 := Row{Dimension: "a"}
	r2 := Row{Dimension: "b"}
	r3 := Row{Dimension: "c"}

	s0 := DeliverySummary{}
	s1 := s0.Fold(BatchOutcome{Sent: 2})
	s2 := s1.Fold(FailAll([]Row{r1, r2}, errors.New("boom")))
	s3 := s2.Fold(BatchOutcome{Sent: 1, Failed: 1, Errors: []RecordError{{Record: r3, Error: "x"}}})

	require.Equal(t, 0, s0.RecordsSent)
	require.Empty(t, s0.Errors)
	require.Equal(t, 2, s1.RecordsSent)
	require.Empty(t, s1.Errors)

	require.Equal(t, 3, s3.RecordsSent)
	require.Equal(t, 3, s3.RecordsFailed)
	require.Len(t, s3.Errors, 3)
	require.Equal(t, "a", s3.Errors[0].Record.Dimension)
	require.Equal(t, "boom", s3.Errors[1].Error)
	require.Equal(t, "c", s3.Errors[2].Record.Dimension)

	// earlier summaries are untouched
	require.Len(t, s2.Errors, 2)
}

func TestParseAggregation(t *testing.T) {
	cases := []struct {
		in      string
		want    Aggregation
		wantErr bool
	}{
		{"avg", AggregationAvg, false},
		{"MAX", AggregationMax, false},
		{" Median ", AggregationMedian, false},
		{"", AggregationNone, false},
		{"sum", AggregationNone, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAggregation(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestShapeString(t *testing.T) {
	require.Equal(t, "flat", ShapeFlat.String())
	require.Equal(t, "charts-only", ShapeChartsOnly.String())
	require.Equal(t, "unknown", Shape(42).String())
}
