package model

// RecordError attributes a delivery failure to one row.
type RecordError struct {
	Record Row    `json:"record"`
	Error  string `json:"error"`
}

// BatchOutcome is the classified result of delivering one batch.
type BatchOutcome struct {
	Sent   int
	Failed int
	Errors []RecordError
}

// DeliverySummary aggregates the outcomes of one ingestion event.
// Values are treated as immutable: Fold returns a new summary.
type DeliverySummary struct {
	RecordsSent   int           `json:"records_sent"`
	RecordsFailed int           `json:"records_failed"`
	Errors        []RecordError `json:"errors"`
}

// Fold returns a new summary with the outcome of the next batch added.
// Error order is preserved: earlier batches first, row order within a batch.
func (s DeliverySummary) Fold(o BatchOutcome) DeliverySummary {
	errs := make([]RecordError, 0, len(s.Errors)+len(o.Errors))
	errs = append(errs, s.Errors...)
	errs = append(errs, o.Errors...)
	return DeliverySummary{
		RecordsSent:   s.RecordsSent + o.Sent,
		RecordsFailed: s.RecordsFailed + o.Failed,
		Errors:        errs,
	}
}

// FailAll builds an outcome where every row of the batch failed with err.
func FailAll(rows []Row, err error) BatchOutcome {
	out := BatchOutcome{Failed: len(rows), Errors: make([]RecordError, 0, len(rows))}
	for _, r := range rows {
		out.Errors = append(out.Errors, RecordError{Record: r, Error: err.Error()})
	}
	return out
}
