package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/netdata-proxy/internal/buildinfo"
	"github.com/and161185/netdata-proxy/internal/config"
	"github.com/and161185/netdata-proxy/internal/ingest"
	"github.com/and161185/netdata-proxy/internal/normalize"
	"github.com/and161185/netdata-proxy/internal/observability"
	"github.com/and161185/netdata-proxy/internal/pipeline"
	"github.com/and161185/netdata-proxy/internal/server"
	"github.com/and161185/netdata-proxy/internal/sink/clickhouse"
	"github.com/and161185/netdata-proxy/internal/sink/graph"
	"github.com/and161185/netdata-proxy/internal/sink/memory"
	"github.com/and161185/netdata-proxy/internal/sink/timescale"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewServerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = cfg.Logger.Sync() }()

	buildinfo.Log(cfg.Logger)
	if err := run(ctx, cfg); err != nil {
		cfg.Logger.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	sink, closeSink, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSink(); err != nil {
			cfg.Logger.Errorf("close sink: %v", err)
		}
	}()

	cfg.Logger.Infow("proxy config",
		"addr", cfg.Addr,
		"sink", sink.Name(),
		"batch_size", cfg.BatchSize,
		"sink_timeout", cfg.SinkTimeout,
		"max_body_bytes", cfg.MaxBodyBytes,
		"trusted_subnet", cfg.TrustedSubnet,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	p := pipeline.New(normalize.New(cfg.Precision(), cfg.SelfHostname), sink, cfg.Logger, metrics)

	srv := &server.Server{
		Pipeline: p,
		Sink:     sink,
		Config:   cfg,
		Metrics:  metrics,
		Gatherer: reg,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	for _, l := range cfg.TCPListeners() {
		listener := ingest.NewListener(l.Addr, l.Aggregation, p, cfg.Logger, metrics)
		g.Go(func() error { return listener.ListenAndServe(gctx) })
	}
	return g.Wait()
}

func openSink(ctx context.Context, cfg *config.ServerConfig) (pipeline.Sink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Sink {
	case config.SinkClickHouse:
		s, err := clickhouse.Open(ctx, clickhouse.Config{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Table:    cfg.ClickHouse.Table,
			Timeout:  cfg.SinkTimeout,
		}, cfg.Logger)
		if err != nil {
			return nil, noop, fmt.Errorf("open clickhouse: %w", err)
		}
		if cfg.ClickHouse.CreateTable {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, noop, fmt.Errorf("migrate clickhouse: %w", err)
			}
		}
		return s, s.Close, nil

	case config.SinkTimescale:
		s, err := timescale.Open(ctx, cfg.DatabaseDSN, cfg.TimescaleTable, cfg.Logger)
		if err != nil {
			return nil, noop, fmt.Errorf("open timescale: %w", err)
		}
		return s, s.Close, nil

	case config.SinkGraph:
		if cfg.Graph.Token == "" {
			cfg.Logger.Warn("GRAPH_API_TOKEN is not set, every ingestion event will fail")
		}
		return graph.New(graph.Config{
			URL:        cfg.Graph.URL,
			Token:      cfg.Graph.Token,
			Collection: cfg.Graph.Collection,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.SinkTimeout,
		}, cfg.Logger), noop, nil
	}

	s := memory.New(cfg.MemoryDump, cfg.Logger)
	return s, s.Close, nil
}
