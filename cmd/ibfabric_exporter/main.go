// Command ibfabric_exporter discovers an InfiniBand fabric through the
// local MAD port and either prints the topology once or serves it as
// Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/collector"
	"github.com/yuuki/prometheus-ibfabric-exporter/internal/config"
	"github.com/yuuki/prometheus-ibfabric-exporter/internal/fabric"
	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
	"github.com/yuuki/prometheus-ibfabric-exporter/internal/server"
	"github.com/yuuki/prometheus-ibfabric-exporter/internal/umad"
)

var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Printf("ibfabric_exporter v%s\ncommit: %s\nbuilt with: %s\n", version, commit, runtime.Version())
		os.Exit(0)
	}

	logger := newLogger(cfg.LogLevel)

	opts, err := discoverOptions(cfg, logger)
	if err != nil {
		logger.Error("bad discovery options", "err", err)
		os.Exit(2)
	}

	port, err := umad.Open(cfg.Device, cfg.Port, logger)
	if err != nil {
		logger.Error("cannot open MAD port", "device", cfg.Device, "port", cfg.Port, "err", err)
		os.Exit(1)
	}
	defer port.Close()

	if cfg.Once {
		f, err := fabric.Discover(port, opts)
		if err != nil {
			logger.Error("discovery failed", "err", err)
			os.Exit(1)
		}
		printTopology(f)
		return
	}

	logger.Info("starting prometheus ibfabric exporter",
		"listen_address", cfg.ListenAddress,
		"metrics_path", cfg.MetricsPath,
		"health_path", cfg.HealthPath,
		"device", port.Device(),
		"ca_port", port.PortNum(),
		"smp_timeout", cfg.Timeout.String(),
		"scrape_timeout", cfg.ScrapeTimeout.String(),
		"max_hops", cfg.MaxHops,
	)

	source := &discoverSource{transport: port, opts: opts}
	fabricCollector := collector.New(source, logger,
		collector.WithScrapeTimeout(cfg.ScrapeTimeout))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		fabricCollector,
	)

	srv := server.New(server.Options{
		ListenAddress: cfg.ListenAddress,
		MetricsPath:   cfg.MetricsPath,
		HealthPath:    cfg.HealthPath,
		GatherTimeout: cfg.ScrapeTimeout,
	}, registry, logger)

	errCh := make(chan error, 1)
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case serveErr := <-errCh:
		logger.Error("server exited with error", "err", serveErr)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func discoverOptions(cfg config.Config, logger *slog.Logger) (fabric.DiscoverOptions, error) {
	opts := fabric.DiscoverOptions{
		Timeout:  cfg.Timeout,
		MaxHops:  cfg.MaxHops,
		Logger:   logger,
		Progress: cfg.Progress,
	}
	if cfg.FromDR != "" {
		path, err := mad.ParseDRPath(cfg.FromDR)
		if err != nil {
			return opts, fmt.Errorf("starting route %q: %w", cfg.FromDR, err)
		}
		opts.From = &path
	}
	return opts, nil
}

// discoverSource runs one fabric discovery per scrape. The scrape context is
// checked only before the discovery starts.
type discoverSource struct {
	transport mad.Transport
	opts      fabric.DiscoverOptions
}

func (s *discoverSource) Fabric(ctx context.Context) (*fabric.Fabric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fabric.Discover(s.transport, s.opts)
}

// printTopology dumps the graph in a per-node, per-link layout.
func printTopology(f *fabric.Fabric) {
	f.IterNodes(func(n *fabric.Node) {
		switch n.Type {
		case mad.NodeSwitch:
			enh := ""
			if n.EnhSP0 {
				enh = " enhanced port 0"
			}
			fmt.Printf("%s\t0x%016x ports %d %q base lid %d lmc %d%s\n",
				n.Type, n.GUID, n.NumPorts, n.Desc, n.SMALID, n.SMALMC, enh)
		default:
			fmt.Printf("%s\t0x%016x ports %d %q\n", n.Type, n.GUID, n.NumPorts, n.Desc)
		}
		for p := 1; p <= n.NumPorts; p++ {
			port := n.Port(p)
			if port == nil {
				continue
			}
			if port.Remote == nil {
				fmt.Printf("\t[%d]\t%s\n", p, mad.PhysStateName(port.PhysState()))
				continue
			}
			fmt.Printf("\t[%d]\t-> 0x%016x[%d] %q\n",
				p, port.Remote.Node.GUID, port.Remote.PortNum, port.Remote.Node.Desc)
		}
	})

	for ch := f.Chassis; ch != nil; ch = ch.Next {
		fmt.Printf("Chassis %d\tsystem guid 0x%016x nodes %d\n", ch.Num, ch.SystemGUID, len(ch.Nodes))
	}
}
