// Package server is the HTTP ingestion front.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/and161185/netdata-proxy/internal/buildinfo"
	"github.com/and161185/netdata-proxy/internal/config"
	"github.com/and161185/netdata-proxy/internal/ingest"
	"github.com/and161185/netdata-proxy/internal/observability"
	"github.com/and161185/netdata-proxy/internal/pipeline"
	"github.com/and161185/netdata-proxy/internal/server/middleware"
	"github.com/and161185/netdata-proxy/model"
)

const (
	transportHTTP   = "http"
	maxErrorsShown  = 5
	pingTimeout     = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Processor runs one ingestion event. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, samples []model.RawSample, agg model.Aggregation) (pipeline.Result, error)
	SinkName() string
}

type describer interface {
	Describe() map[string]any
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the pipeline into HTTP routes. Sink is only used for the
// health report; Gatherer may be nil to disable /metrics.
type Server struct {
	Pipeline Processor
	Sink     pipeline.Sink
	Config   *config.ServerConfig
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
}

// Router builds the HTTP handler.
func (srv *Server) Router() (http.Handler, error) {
	trusted, err := middleware.TrustedCIDR(srv.Config.TrustedSubnet)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(chiMiddleware.StripSlashes)
	router.Use(chiMiddleware.Recoverer)
	router.Use(middleware.LogMiddleware(srv.Config.Logger))
	router.Use(middleware.CompressMiddleware)

	router.Get("/health", srv.HealthHandler)
	if srv.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(srv.Gatherer, promhttp.HandlerOpts{DisableCompression: true}))
	}

	router.Group(func(r chi.Router) {
		r.Use(trusted)
		r.Use(middleware.DecompressMiddleware)
		r.Use(middleware.BodyLimit(srv.Config.MaxBodyBytes))

		r.Post("/", srv.IngestHandler)
		if srv.Config.IsGraph() {
			r.Get("/test", srv.TestHandler)
			r.Post("/{aggregation}", srv.IngestHandler)
		}
	})

	return router, nil
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	handler, err := srv.Router()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              srv.Config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.Config.Logger.Infof("HTTP server on %s, sink %s", srv.Config.Addr, srv.Pipeline.SinkName())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type ingestResponse struct {
	Status           string              `json:"status"`
	Message          string              `json:"message,omitempty"`
	RecordsSent      int                 `json:"records_sent"`
	RowsInserted     int                 `json:"rows_inserted"`
	RecordsFailed    int                 `json:"records_failed"`
	RowsDropped      int                 `json:"rows_dropped"`
	Errors           []model.RecordError `json:"errors,omitempty"`
	ProcessingTimeMS int64               `json:"processing_time_ms"`
	Test             bool                `json:"test,omitempty"`
	Timestamp        string              `json:"timestamp,omitempty"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// IngestHandler accepts one payload. The aggregation comes from the path,
// or the configured default on POST /.
func (srv *Server) IngestHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := srv.Config.Logger

	agg := srv.Config.DefaultAggregation()
	if name := chi.URLParam(r, "aggregation"); name != "" {
		parsed, err := model.ParseAggregation(name)
		if err != nil || parsed == model.AggregationNone {
			http.NotFound(w, r)
			return
		}
		agg = parsed
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			srv.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", mbe.Limit))
			return
		}
		srv.writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	decoded := ingest.DecodeBody(body, logger)
	srv.Metrics.ObserveDecode(transportHTTP, len(decoded.Samples), decoded.Failed)

	res, err := srv.Pipeline.Process(r.Context(), decoded.Samples, agg)
	if err != nil {
		srv.Metrics.ObserveEvent(transportHTTP, "error")
		logger.Errorw("ingestion event failed", "aggregation", string(agg), "error", err)
		srv.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := buildResponse(res, time.Since(start))
	srv.Metrics.ObserveEvent(transportHTTP, resp.Status)
	status := http.StatusOK
	if resp.Status == "error" {
		status = http.StatusInternalServerError
	}
	srv.writeJSON(w, status, resp)
}

// TestHandler pushes one synthetic record through the full pipeline.
func (srv *Server) TestHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sample := model.RawSample{
		Shape: model.ShapeFlat,
		Fields: map[string]any{
			"hostname":   "test-host",
			"chart_id":   "test.chart",
			"chart_name": "Test Chart",
			"id":         "test_dimension",
			"value":      42.0,
			"units":      "test",
			"family":     "test",
			"context":    "test.context",
			"chart_type": "line",
			"timestamp":  float64(time.Now().Unix()),
		},
	}

	res, err := srv.Pipeline.Process(r.Context(), []model.RawSample{sample}, srv.Config.DefaultAggregation())
	if err != nil {
		srv.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := buildResponse(res, time.Since(start))
	resp.Test = true
	status := http.StatusOK
	if resp.Status == "error" {
		status = http.StatusInternalServerError
	}
	srv.writeJSON(w, status, resp)
}

// HealthHandler reports the sink and its configuration. Sinks that can be
// pinged are checked; a failed ping yields 503.
func (srv *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"sink":      srv.Pipeline.SinkName(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"build":     buildinfo.Info(),
	}
	if d, ok := srv.Sink.(describer); ok {
		resp["config"] = d.Describe()
	}

	status := http.StatusOK
	if p, ok := srv.Sink.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			srv.Config.Logger.Warnw("sink ping failed", "error", err)
			resp["status"] = "unhealthy"
			resp["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	srv.writeJSON(w, status, resp)
}

func buildResponse(res pipeline.Result, elapsed time.Duration) ingestResponse {
	resp := ingestResponse{
		Status:           ingest.Status(res),
		RecordsSent:      res.Summary.RecordsSent,
		RowsInserted:     res.Summary.RecordsSent,
		RecordsFailed:    res.Summary.RecordsFailed,
		RowsDropped:      res.Dropped,
		ProcessingTimeMS: elapsed.Milliseconds(),
	}
	switch resp.Status {
	case "no_data":
		resp.Message = "no valid metrics found in payload"
	case "error":
		resp.Message = "all records failed"
		resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	errs := res.Summary.Errors
	if len(errs) > maxErrorsShown {
		errs = errs[:maxErrorsShown]
	}
	resp.Errors = errs
	return resp
}

func (srv *Server) writeError(w http.ResponseWriter, status int, err error) {
	srv.writeJSON(w, status, errorResponse{
		Status:    "error",
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (srv *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		srv.Config.Logger.Errorf("failed to write response JSON: %v", err)
	}
}
