package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/and161185/netdata-proxy/internal/buildinfo"
	"github.com/and161185/netdata-proxy/internal/config"
	"github.com/and161185/netdata-proxy/internal/forwarder"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewForwarderConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = cfg.Logger.Sync() }()

	buildinfo.Log(cfg.Logger)
	f := forwarder.New(cfg)

	if cfg.Once {
		if err := f.RunOnce(ctx); err != nil {
			cfg.Logger.Errorf("forward failed: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := f.Run(ctx); err != nil {
		cfg.Logger.Fatal(err)
	}
}
