package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/observability"
	"github.com/and161185/netdata-proxy/internal/pipeline"
	"github.com/and161185/netdata-proxy/model"
)

const (
	transportTCP = "tcp"
	readSize     = 64 * 1024
)

// Processor runs one ingestion event.
type Processor interface {
	Process(ctx context.Context, samples []model.RawSample, agg model.Aggregation) (pipeline.Result, error)
}

// Listener accepts newline-delimited JSON streams and tags every row it
// produces with a fixed aggregation.
type Listener struct {
	addr      string
	agg       model.Aggregation
	processor Processor
	logger    *zap.SugaredLogger
	metrics   *observability.Metrics
	maxLine   int
}

// NewListener creates a Listener for addr. metrics may be nil.
func NewListener(addr string, agg model.Aggregation, p Processor, logger *zap.SugaredLogger, metrics *observability.Metrics) *Listener {
	return &Listener{
		addr:      addr,
		agg:       agg,
		processor: p,
		logger:    logger.With("listener", addr, "aggregation", string(agg)),
		metrics:   metrics,
		maxLine:   DefaultMaxLine,
	}
}

// ListenAndServe binds the address and serves until ctx is done.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", l.addr, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Accept fails. Either
// way ln and every open connection are closed, and Serve waits for the
// connection handlers to finish their current event before returning.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.logger.Infof("TCP listener on %s", ln.Addr())

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			_ = ln.Close()
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handle(ctx, conn)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	log := l.logger.With("remote", conn.RemoteAddr().String())
	log.Debug("connection opened")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	buf := newLineBuffer(l.maxLine)
	defer buf.release()

	chunk := make([]byte, readSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			l.onRead(ctx, buf, chunk[:n], log)
		}
		if err != nil {
			if buf.pending() > 0 {
				log.Warnf("connection closed with %d bytes of incomplete line", buf.pending())
			}
			log.Debug("connection closed")
			return
		}
	}
}

// onRead handles one read event: every complete line becomes part of a single
// ingestion event.
func (l *Listener) onRead(ctx context.Context, buf *lineBuffer, chunk []byte, log *zap.SugaredLogger) {
	var d Decoded
	lines, overflow := buf.feed(chunk)
	if overflow {
		log.Warnf("discarding partial line longer than %d bytes", l.maxLine)
		d.Failed++
	}
	if len(lines) == 0 {
		if overflow {
			l.metrics.ObserveDecode(transportTCP, 0, d.Failed)
		}
		return
	}

	for _, line := range lines {
		d.addLine(line, log)
	}
	l.metrics.ObserveDecode(transportTCP, len(d.Samples), d.Failed)
	if len(d.Samples) == 0 {
		return
	}

	res, err := l.processor.Process(ctx, d.Samples, l.agg)
	if err != nil {
		l.metrics.ObserveEvent(transportTCP, "error")
		log.Errorw("ingestion event failed", "samples", len(d.Samples), "error", err)
		return
	}
	status := Status(res)
	l.metrics.ObserveEvent(transportTCP, status)
	log.Infow("ingestion event",
		"status", status,
		"samples", len(d.Samples),
		"rows", res.Rows,
		"records_sent", res.Summary.RecordsSent,
		"records_failed", res.Summary.RecordsFailed,
	)
}

// Status categorizes a processed event as no_data, success, partial_success or error.
func Status(res pipeline.Result) string {
	switch {
	case res.Rows == 0:
		return "no_data"
	case res.Summary.RecordsFailed == 0:
		return "success"
	case res.Summary.RecordsSent == 0:
		return "error"
	}
	return "partial_success"
}
