package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/config"
	"github.com/and161185/netdata-proxy/internal/normalize"
	"github.com/and161185/netdata-proxy/internal/observability"
	"github.com/and161185/netdata-proxy/internal/pipeline"
	"github.com/and161185/netdata-proxy/internal/pipeline/mocks"
	"github.com/and161185/netdata-proxy/internal/sink/graph"
	"github.com/and161185/netdata-proxy/internal/sink/memory"
	"github.com/and161185/netdata-proxy/model"
)

func testConfig(sink string) *config.ServerConfig {
	return &config.ServerConfig{
		Sink:         sink,
		MaxBodyBytes: 10 << 20,
		Logger:       zap.NewNop().Sugar(),
	}
}

func newTestServer(t *testing.T, cfg *config.ServerConfig, sink pipeline.Sink) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	n := normalize.New(cfg.Precision(), "")
	srv := &Server{
		Pipeline: pipeline.New(n, sink, cfg.Logger, metrics),
		Sink:     sink,
		Config:   cfg,
		Metrics:  metrics,
		Gatherer: reg,
	}
	h, err := srv.Router()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, reg
}

func post(t *testing.T, url, contentType, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, contentType, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestIngest_JSONLinesSkipsInvalidLine(t *testing.T) {
	sink := memory.New("", zap.NewNop().Sugar())
	ts, _ := newTestServer(t, testConfig(config.SinkMemory), sink)

	body := `{"hostname":"h1","chart_id":"system.cpu","id":"user","value":12.5,"timestamp":1700000000}` + "\n" +
		`{this is not json` + "\n"
	resp, out := post(t, ts.URL+"/", "text/plain", body)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "success", out["status"])
	require.EqualValues(t, 1, out["records_sent"])
	require.EqualValues(t, 1, out["rows_inserted"])
	require.EqualValues(t, 0, out["records_failed"])

	rows := sink.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, 12.5, rows[0].Value)
	require.Equal(t, "h1", rows[0].Hostname)
	require.Equal(t, "user", rows[0].Dimension)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), rows[0].Timestamp)
	require.Equal(t, model.AggregationNone, rows[0].Aggregation)
}

func TestIngest_NoData(t *testing.T) {
	sink := memory.New("", zap.NewNop().Sugar())
	ts, _ := newTestServer(t, testConfig(config.SinkMemory), sink)

	resp, out := post(t, ts.URL, "application/json", `{"dimensions":{"a":"NaN-ish"}}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no_data", out["status"])
	require.Zero(t, sink.Len())
}

func TestIngest_ColumnarRoutesOnlyRoot(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(config.SinkMemory), memory.New("", zap.NewNop().Sugar()))

	resp, err := http.Post(ts.URL+"/avg", "application/json", strings.NewReader(`{"value":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/test")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngest_PartialAndTotalFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()

	row := model.Row{Dimension: "a"}
	errList := make([]model.RecordError, 7)
	for i := range errList {
		errList[i] = model.RecordError{Record: row, Error: "rejected"}
	}

	gomock.InOrder(
		sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).
			Return(model.DeliverySummary{RecordsSent: 1, RecordsFailed: 7, Errors: errList}, nil),
		sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).
			Return(model.DeliverySummary{RecordsFailed: 1, Errors: errList[:1]}, nil),
	)

	cfg := testConfig(config.SinkGraph)
	ts, _ := newTestServer(t, cfg, sink)

	resp, out := post(t, ts.URL+"/max", "application/json", `{"dimensions":{"a":1,"b":2}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "partial_success", out["status"])
	require.Len(t, out["errors"], maxErrorsShown)

	resp, out = post(t, ts.URL+"/median", "application/json", `{"id":"a","value":1}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "error", out["status"])
	require.EqualValues(t, 1, out["records_failed"])
	require.NotEmpty(t, out["timestamp"])
}

func TestIngest_AggregationFromPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()

	var got []model.Aggregation
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(4).DoAndReturn(
		func(_ context.Context, rows []model.Row) (model.DeliverySummary, error) {
			got = append(got, rows[0].Aggregation)
			return model.DeliverySummary{RecordsSent: len(rows)}, nil
		})

	ts, _ := newTestServer(t, testConfig(config.SinkGraph), sink)
	for _, path := range []string{"/", "/avg", "/MAX/", "/median"} {
		resp, _ := post(t, ts.URL+path, "application/json", `{"id":"a","value":1}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	require.Equal(t, []model.Aggregation{
		model.AggregationAvg, model.AggregationAvg, model.AggregationMax, model.AggregationMedian,
	}, got)

	resp, err := http.Post(ts.URL+"/sum", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngest_MissingTokenIs500WithoutNetworkCall(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer upstream.Close()

	cfg := testConfig(config.SinkGraph)
	sink := graph.New(graph.Config{URL: upstream.URL, BatchSize: 20}, cfg.Logger)
	ts, _ := newTestServer(t, cfg, sink)

	resp, out := post(t, ts.URL+"/avg", "application/json", `{"id":"a","value":1}`)

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "error", out["status"])
	require.Contains(t, out["message"], "token")
	require.NotEmpty(t, out["timestamp"])
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestIngest_MissingTokenIs500WithoutRows(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer upstream.Close()

	cfg := testConfig(config.SinkGraph)
	sink := graph.New(graph.Config{URL: upstream.URL, BatchSize: 20}, cfg.Logger)
	ts, _ := newTestServer(t, cfg, sink)

	for name, body := range map[string]string{
		"empty":       "",
		"non_numeric": `{"dimensions":{"a":"not-a-number"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, out := post(t, ts.URL+"/avg", "application/json", body)
			require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			require.Equal(t, "error", out["status"])
			require.Contains(t, out["message"], "token")
		})
	}
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestIngest_BodyTooLarge(t *testing.T) {
	cfg := testConfig(config.SinkMemory)
	cfg.MaxBodyBytes = 16
	ts, _ := newTestServer(t, cfg, memory.New("", zap.NewNop().Sugar()))

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`{"id":"a","value":1,"padding":"xxxxxxxx"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestIngest_TrustedSubnet(t *testing.T) {
	cfg := testConfig(config.SinkMemory)
	cfg.TrustedSubnet = "10.0.0.0/8"
	ts, _ := newTestServer(t, cfg, memory.New("", zap.NewNop().Sugar()))

	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewBufferString(`{"value":1}`))
	require.NoError(t, err)
	req.Header.Set("X-Real-IP", "192.168.0.1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type pingSink struct {
	*memory.Sink
	err error
}

func (p pingSink) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(config.SinkMemory), pingSink{Sink: memory.New("", zap.NewNop().Sugar())})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "healthy", out["status"])
	require.Equal(t, "memory", out["sink"])
	require.Contains(t, out, "config")

	bad, _ := newTestServer(t, testConfig(config.SinkMemory), pingSink{Sink: memory.New("", zap.NewNop().Sugar()), err: errors.New("down")})
	resp2, err := http.Get(bad.URL + "/health")
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestTestEndpoint(t *testing.T) {
	var got []model.Row
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("graph").AnyTimes()
	sink.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rows []model.Row) (model.DeliverySummary, error) {
			got = rows
			return model.DeliverySummary{RecordsSent: len(rows)}, nil
		})

	ts, _ := newTestServer(t, testConfig(config.SinkGraph), sink)
	resp, err := http.Get(ts.URL + "/test")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, out["test"])
	require.Len(t, got, 1)
	require.Equal(t, "test-host", got[0].Hostname)
	require.Equal(t, 42.0, got[0].Value)
	require.Zero(t, got[0].Timestamp.Second())
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(config.SinkMemory), memory.New("", zap.NewNop().Sugar()))

	resp, _ := post(t, ts.URL, "application/json", `[{"id":"a","value":1},{"id":"b","value":"x"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mresp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(mresp.Body)

	require.Contains(t, buf.String(), `proxy_events_total{status="success",transport="http"} 1`)
	require.Contains(t, buf.String(), `proxy_rows_dropped_total 1`)
}

func TestMetricsEndpoint_GzipIsAppliedOnce(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(config.SinkMemory), memory.New("", zap.NewNop().Sugar()))

	resp, _ := post(t, ts.URL, "application/json", `{"id":"a","value":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	mresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer mresp.Body.Close()
	require.Equal(t, "gzip", mresp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(mresp.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)

	require.Contains(t, string(plain), `proxy_events_total{status="success",transport="http"} 1`)
}
