package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/and161185/netdata-proxy/internal/errs"
	"github.com/and161185/netdata-proxy/internal/utils"
)

// FallbackHost labels metrics read from the agent's own allmetrics endpoint.
const FallbackHost = "netdata-parent"

const maxNetdataResponse = 64 << 20

// Info is the subset of /api/v1/info the forwarder uses.
type Info struct {
	Version       string   `json:"version"`
	MirroredHosts []string `json:"mirrored_hosts"`
}

// Chart is one chart of an allmetrics?format=json response.
type Chart struct {
	Name        string                     `json:"name"`
	Family      string                     `json:"family"`
	Context     string                     `json:"context"`
	Units       string                     `json:"units"`
	ChartType   string                     `json:"chart_type"`
	LastUpdated json.Number                `json:"last_updated"`
	Dimensions  map[string]json.RawMessage `json:"dimensions"`
}

// HostCharts maps hostname to its charts keyed by chart id.
type HostCharts map[string]map[string]Chart

// Info fetches /api/v1/info.
func (f *Forwarder) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := f.getJSON(ctx, "/api/v1/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Collect pulls allmetrics for every mirrored host. When the agent reports no
// hosts, or none of them answer, the agent's own endpoint is used under FallbackHost.
func (f *Forwarder) Collect(ctx context.Context) (HostCharts, error) {
	result := HostCharts{}

	info, err := f.Info(ctx)
	if err != nil {
		f.logger.Warnw("could not get Netdata info, using default endpoint", "error", err)
	} else {
		f.logger.Infof("found %d hosts: %v", len(info.MirroredHosts), info.MirroredHosts)
		for _, host := range info.MirroredHosts {
			charts, err := f.allMetrics(ctx, "/host/"+url.PathEscape(host)+"/api/v1/allmetrics")
			if err != nil {
				f.logger.Warnw("failed to get metrics", "host", host, "error", err)
				continue
			}
			f.logger.Infof("got %d charts from %s", len(charts), host)
			result[host] = charts
		}
	}

	if len(result) > 0 {
		return result, nil
	}

	charts, err := f.allMetrics(ctx, "/api/v1/allmetrics")
	if err != nil {
		return nil, fmt.Errorf("fetch default metrics: %w", err)
	}
	result[FallbackHost] = charts
	return result, nil
}

func (f *Forwarder) allMetrics(ctx context.Context, path string) (map[string]Chart, error) {
	var raw map[string]json.RawMessage
	if err := f.getJSON(ctx, path+"?format=json", &raw); err != nil {
		return nil, err
	}

	charts := make(map[string]Chart, len(raw))
	for id, msg := range raw {
		var c Chart
		if err := json.Unmarshal(msg, &c); err != nil {
			f.logger.Debugw("skipping chart", "chart", id, "error", err)
			continue
		}
		charts[id] = c
	}
	return charts, nil
}

func (f *Forwarder) getJSON(ctx context.Context, path string, dst any) error {
	return utils.WithRetry(ctx, f.attempts, f.delays, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.netdataURL+path, nil)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %w", errs.ErrTransport, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			statusErr := fmt.Errorf("%w: GET %s: unexpected status %d", errs.ErrTransport, path, resp.StatusCode)
			if resp.StatusCode >= 500 {
				return utils.Retriable(statusErr)
			}
			return statusErr
		}

		if err := json.NewDecoder(io.LimitReader(resp.Body, maxNetdataResponse)).Decode(dst); err != nil {
			return fmt.Errorf("%w: GET %s: %w", errs.ErrDecode, path, err)
		}
		return nil
	})
}
