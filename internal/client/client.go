// Package client talks to the proxy's HTTP front.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/and161185/netdata-proxy/internal/errs"
	"github.com/and161185/netdata-proxy/internal/utils"
	"github.com/and161185/netdata-proxy/model"
)

const maxResponseBytes = 1 << 20

// IngestResult is the proxy's answer to one ingestion request.
type IngestResult struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	RecordsSent      int    `json:"records_sent"`
	RowsInserted     int    `json:"rows_inserted"`
	RecordsFailed    int    `json:"records_failed"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

// Client posts flat metrics to the proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	realIP     string
	attempts   int
	delays     []time.Duration
}

// New creates a client for the proxy at baseURL. Transient network errors
// are retried up to attempts times.
func New(baseURL string, timeout time.Duration, attempts int) *Client {
	c := NewWithHTTP(baseURL, &http.Client{Timeout: timeout}, attempts)
	c.realIP = detectOutboundIP()
	return c
}

// NewWithHTTP creates a client on top of a ready http.Client.
func NewWithHTTP(baseURL string, hc *http.Client, attempts int) *Client {
	return &Client{baseURL: baseURL, httpClient: hc, attempts: attempts, delays: utils.DefaultDelays}
}

// detectOutboundIP finds the local address used for outbound traffic so the
// proxy's trusted subnet check can see it in X-Real-IP. No packet is sent.
func detectOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return la.IP.String()
	}
	return ""
}

// Send posts metrics as one gzip-compressed JSON array to POST /.
func (c *Client) Send(ctx context.Context, metrics []model.FlatMetric) (*IngestResult, error) {
	raw, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	if _, err = zw.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}

	var result IngestResult
	err = utils.WithRetry(ctx, c.attempts, c.delays, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(body.Bytes()))
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")
		if c.realIP != "" {
			req.Header.Set("X-Real-IP", c.realIP)
		}
		return c.do(req, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("send metrics: %w", err)
	}
	return &result, nil
}

// Health returns the status field reported by GET /health.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := utils.WithRetry(ctx, c.attempts, c.delays, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		return c.do(req, &out)
	})
	if err != nil {
		return "", fmt.Errorf("proxy health: %w", err)
	}
	return out.Status, nil
}

func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", errs.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("%w: unexpected status %d: %s", errs.ErrTransport, resp.StatusCode, bytes.TrimSpace(data))
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return utils.Retriable(statusErr)
		}
		return statusErr
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: decode response: %w", errs.ErrDecode, err)
	}
	return nil
}
