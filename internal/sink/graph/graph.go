// Package graph delivers rows to a record-graph API as batched, aliased GraphQL mutations.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/and161185/netdata-proxy/internal/client/transport"
	"github.com/and161185/netdata-proxy/internal/errs"
	"github.com/and161185/netdata-proxy/internal/pipeline"
	"github.com/and161185/netdata-proxy/model"
)

const (
	// DefaultTimeout bounds one batch request.
	DefaultTimeout = 120 * time.Second
	// DefaultCollection is the record collection rows are created in.
	DefaultCollection = "netdataMetric"

	maxResponseBytes = 8 << 20
)

// Config holds the record-graph API settings.
type Config struct {
	URL        string
	Token      string
	Collection string
	BatchSize  int
	Timeout    time.Duration
}

// Sink sends each batch as one multi-operation mutation and attributes
// failures per row through the operation aliases.
type Sink struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.SugaredLogger
	newID      func() string

	mutation  string // e.g. createNetdataMetric
	inputType string // e.g. NetdataMetricCreateInput
}

// New creates a Sink with its own HTTP client authenticating with cfg.Token.
func New(cfg Config, logger *zap.SugaredLogger) *Sink {
	cfg = withDefaults(cfg)
	hc := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &transport.BearerRoundTripper{Base: http.DefaultTransport, Token: cfg.Token},
	}
	return NewWithHTTP(cfg, hc, logger)
}

// NewWithHTTP creates a Sink on top of a ready http.Client.
func NewWithHTTP(cfg Config, hc *http.Client, logger *zap.SugaredLogger) *Sink {
	cfg = withDefaults(cfg)
	typeName := cases.Title(language.Und, cases.NoLower).String(cfg.Collection)
	return &Sink{
		cfg:        cfg,
		httpClient: hc,
		logger:     logger,
		newID:      func() string { return uuid.NewString() },
		mutation:   "create" + typeName,
		inputType:  typeName + "CreateInput",
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

func (s *Sink) Name() string { return "graph" }

// Describe returns the configuration echoed by the health endpoint.
func (s *Sink) Describe() map[string]any {
	return map[string]any{
		"api_url":          s.cfg.URL,
		"collection":       s.cfg.Collection,
		"batch_size":       s.cfg.BatchSize,
		"timeout_seconds":  s.cfg.Timeout.Seconds(),
		"token_configured": s.cfg.Token != "",
	}
}

// Check fails when no API token is configured.
func (s *Sink) Check() error {
	if s.cfg.Token == "" {
		return errs.ErrMissingToken
	}
	return nil
}

// Deliver sends rows batch by batch, strictly in order. A failed batch marks its
// rows failed and the next batch is still attempted. A missing token fails the
// whole event before any request is made.
func (s *Sink) Deliver(ctx context.Context, rows []model.Row) (model.DeliverySummary, error) {
	if err := s.Check(); err != nil {
		return model.DeliverySummary{}, err
	}

	// Once started, an event runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	var summary model.DeliverySummary
	batches := pipeline.Batch(rows, s.cfg.BatchSize)
	for i, batch := range batches {
		outcome := s.sendBatch(ctx, batch)
		if outcome.Failed > 0 {
			s.logger.Warnf("graph batch %d/%d: sent=%d failed=%d", i+1, len(batches), outcome.Sent, outcome.Failed)
		}
		summary = summary.Fold(outcome)
	}
	return summary, nil
}

func (s *Sink) sendBatch(ctx context.Context, rows []model.Row) model.BatchOutcome {
	req, aliases := s.buildRequest(rows)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.post(ctx, req)
	if err != nil {
		s.logger.Errorf("graph batch of %d rows: %v", len(rows), err)
		return model.FailAll(rows, err)
	}
	return classify(rows, aliases, resp)
}

func (s *Sink) post(ctx context.Context, payload mutationRequest) (*mutationResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %w", errs.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", errs.ErrTransport, err)
	}

	var out mutationResponse
	structured := json.Unmarshal(body, &out) == nil && (out.Data != nil || len(out.Errors) > 0)
	if !structured {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%w: unexpected status %d: %s", errs.ErrTransport, resp.StatusCode, truncate(body, 200))
		}
		return nil, fmt.Errorf("%w: response has neither data nor errors", errs.ErrTransport)
	}
	return &out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
