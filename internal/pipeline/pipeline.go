// Package pipeline composes normalization, validation and delivery of one ingestion event.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/normalize"
	"github.com/and161185/netdata-proxy/internal/observability"
	"github.com/and161185/netdata-proxy/model"
)

//go:generate mockgen -destination=mocks/sink.go -package=mocks github.com/and161185/netdata-proxy/internal/pipeline Sink

// Sink delivers validated rows and reports per-record outcomes.
// An error means the whole event failed before or instead of per-record accounting.
type Sink interface {
	Deliver(ctx context.Context, rows []model.Row) (model.DeliverySummary, error)
	Name() string
}

// Checker is implemented by sinks with a precondition that fails every event,
// regardless of its content.
type Checker interface {
	Check() error
}

// Result describes one processed ingestion event.
type Result struct {
	Rows    int // valid rows handed to the sink
	Dropped int // rows removed by validation
	Summary model.DeliverySummary
}

// Pipeline is shared by every listener; it holds no per-event state.
type Pipeline struct {
	normalizer *normalize.Normalizer
	sink       Sink
	logger     *zap.SugaredLogger
	metrics    *observability.Metrics
}

// New creates a Pipeline. metrics may be nil.
func New(n *normalize.Normalizer, sink Sink, logger *zap.SugaredLogger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{normalizer: n, sink: sink, logger: logger, metrics: metrics}
}

// SinkName reports which sink the pipeline delivers to.
func (p *Pipeline) SinkName() string {
	return p.sink.Name()
}

// Process normalizes samples, drops rows without a finite value and delivers the rest.
// Zero valid rows is not an error: the sink is not called and Result.Rows is 0.
// A failing sink Check is reported before anything else. Once started, delivery
// is not cut short by ctx cancellation.
func (p *Pipeline) Process(ctx context.Context, samples []model.RawSample, agg model.Aggregation) (Result, error) {
	if c, ok := p.sink.(Checker); ok {
		if err := c.Check(); err != nil {
			return Result{}, fmt.Errorf("%s sink: %w", p.sink.Name(), err)
		}
	}

	rows := p.normalizer.Normalize(samples, agg)
	valid := Validate(rows)

	res := Result{Rows: len(valid), Dropped: len(rows) - len(valid)}
	p.metrics.ObserveDropped(res.Dropped)
	if res.Dropped > 0 {
		p.logger.Debugf("dropped %d rows without a finite value", res.Dropped)
	}
	if len(valid) == 0 {
		return res, nil
	}

	start := time.Now()
	summary, err := p.sink.Deliver(context.WithoutCancel(ctx), valid)
	elapsed := time.Since(start)
	if err != nil {
		return res, fmt.Errorf("deliver to %s: %w", p.sink.Name(), err)
	}
	p.metrics.ObserveDelivery(p.sink.Name(), summary, elapsed)
	res.Summary = summary

	p.logger.Infof("delivered to %s: rows=%d sent=%d failed=%d duration=%s",
		p.sink.Name(), len(valid), summary.RecordsSent, summary.RecordsFailed, elapsed)
	return res, nil
}
