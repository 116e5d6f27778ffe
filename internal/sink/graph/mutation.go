package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/netdata-proxy/model"
)

type mutationRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]recordInput `json:"variables"`
}

// recordInput is the field bag of one created record.
type recordInput struct {
	ID          string  `json:"id"`
	Timestamp   string  `json:"timestamp"`
	Hostname    string  `json:"hostname"`
	ChartID     string  `json:"chartId"`
	ChartName   string  `json:"chartName"`
	Dimension   string  `json:"dimension"`
	Value       float64 `json:"value"`
	Units       *string `json:"units"`
	Family      string  `json:"family"`
	Context     string  `json:"context"`
	ChartType   string  `json:"chartType"`
	Aggregation string  `json:"aggregation,omitempty"`
}

type mutationResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []graphError               `json:"errors"`
}

type graphError struct {
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

// alias returns the sub-operation the error belongs to, or "" if unattributed.
func (e graphError) alias() string {
	if len(e.Path) == 0 {
		return ""
	}
	s, _ := e.Path[0].(string)
	return s
}

func alias(i int) string { return fmt.Sprintf("r%d", i) }

// buildRequest renders one aliased sub-operation per row. aliases[i] belongs to rows[i].
func (s *Sink) buildRequest(rows []model.Row) (mutationRequest, []string) {
	aliases := make([]string, len(rows))
	vars := make(map[string]recordInput, len(rows))

	var params, ops strings.Builder
	for i, r := range rows {
		a := alias(i)
		aliases[i] = a
		vars[a] = s.toInput(r)

		if i > 0 {
			params.WriteString(", ")
			ops.WriteString(" ")
		}
		fmt.Fprintf(&params, "$%s: %s!", a, s.inputType)
		fmt.Fprintf(&ops, "%s: %s(data: $%s) { id }", a, s.mutation, a)
	}

	query := fmt.Sprintf("mutation IngestMetrics(%s) { %s }", params.String(), ops.String())
	return mutationRequest{Query: query, Variables: vars}, aliases
}

func (s *Sink) toInput(r model.Row) recordInput {
	return recordInput{
		ID:          s.newID(),
		Timestamp:   r.Timestamp.UTC().Truncate(time.Minute).Format(time.RFC3339),
		Hostname:    r.Hostname,
		ChartID:     r.ChartID,
		ChartName:   r.ChartName,
		Dimension:   r.Dimension,
		Value:       r.Value,
		Units:       r.Units,
		Family:      r.Family,
		Context:     r.Context,
		ChartType:   r.ChartType,
		Aggregation: string(r.Aggregation),
	}
}

// classify marks a row failed if an error names its alias or its alias has no
// result. A row missing from both data and errors counts as failed.
func classify(rows []model.Row, aliases []string, resp *mutationResponse) model.BatchOutcome {
	byAlias := make(map[string][]string)
	var unattributed []string
	for _, e := range resp.Errors {
		if a := e.alias(); a != "" {
			byAlias[a] = append(byAlias[a], e.Message)
		} else {
			unattributed = append(unattributed, e.Message)
		}
	}

	var out model.BatchOutcome
	for i, r := range rows {
		a := aliases[i]
		if msgs, failed := byAlias[a]; failed {
			out.Failed++
			out.Errors = append(out.Errors, model.RecordError{Record: r, Error: strings.Join(msgs, "; ")})
			continue
		}
		if !hasResult(resp.Data[a]) {
			msg := "no result returned for " + a
			if len(unattributed) > 0 {
				msg += ": " + strings.Join(unattributed, "; ")
			}
			out.Failed++
			out.Errors = append(out.Errors, model.RecordError{Record: r, Error: msg})
			continue
		}
		out.Sent++
	}
	return out
}

func hasResult(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
