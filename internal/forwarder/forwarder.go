// Package forwarder pulls metrics from a Netdata agent and pushes them to the
// proxy as flat metrics.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/client"
	"github.com/and161185/netdata-proxy/internal/config"
	"github.com/and161185/netdata-proxy/internal/utils"
)

// ErrNoMetrics means a cycle produced nothing to send.
var ErrNoMetrics = errors.New("no metrics to send")

// Forwarder runs pull-transform-push cycles.
type Forwarder struct {
	netdataURL string
	httpClient *http.Client
	proxy      *client.Client
	logger     *zap.SugaredLogger
	interval   time.Duration
	attempts   int
	delays     []time.Duration
	now        func() time.Time
}

// New creates a Forwarder from cfg.
func New(cfg *config.ForwarderConfig) *Forwarder {
	return NewWithClients(cfg,
		&http.Client{Timeout: cfg.ClientTimeout},
		client.New(cfg.ProxyURL, cfg.ClientTimeout, cfg.MaxRetries))
}

// NewWithClients creates a Forwarder with ready HTTP clients.
func NewWithClients(cfg *config.ForwarderConfig, hc *http.Client, proxy *client.Client) *Forwarder {
	return &Forwarder{
		netdataURL: cfg.NetdataURL,
		httpClient: hc,
		proxy:      proxy,
		logger:     cfg.Logger,
		interval:   cfg.Interval,
		attempts:   cfg.MaxRetries,
		delays:     utils.DefaultDelays,
		now:        time.Now,
	}
}

// RunOnce pulls all hosts once and forwards the result.
func (f *Forwarder) RunOnce(ctx context.Context) error {
	f.logger.Info("pulling metrics from Netdata")
	data, err := f.Collect(ctx)
	if err != nil {
		return err
	}

	charts := 0
	for _, c := range data {
		charts += len(c)
	}
	f.logger.Infof("received data from %d hosts with %d charts", len(data), charts)

	metrics := Transform(data, f.now())
	f.logger.Infof("transformed %d metrics", len(metrics))
	if len(metrics) == 0 {
		return ErrNoMetrics
	}

	res, err := f.proxy.Send(ctx, metrics)
	if err != nil {
		return err
	}
	f.logger.Infow("sent metrics",
		"metrics", len(metrics),
		"status", res.Status,
		"rows_inserted", res.RowsInserted,
		"records_failed", res.RecordsFailed,
		"processing_time_ms", res.ProcessingTimeMS,
	)
	return nil
}

// HealthCheck verifies that both Netdata and the proxy answer.
func (f *Forwarder) HealthCheck(ctx context.Context) error {
	info, err := f.Info(ctx)
	if err != nil {
		return fmt.Errorf("netdata API: %w", err)
	}
	f.logger.Infof("Netdata API accessible, version %s", info.Version)

	status, err := f.proxy.Health(ctx)
	if err != nil {
		return err
	}
	f.logger.Infof("proxy accessible, status %s", status)
	return nil
}

// Run health-checks both ends, then forwards every interval until ctx is done.
// A failed cycle is logged and does not stop the loop.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Infof("starting continuous mode, pulling every %s", f.interval)
	if err := f.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		if err := f.RunOnce(ctx); err != nil {
			f.logger.Warnw("failed to process metrics this cycle", "error", err)
		}

		select {
		case <-ctx.Done():
			f.logger.Info("shutting down")
			return nil
		case <-t.C:
		}
	}
}
