// Package collector exposes a discovered InfiniBand fabric as Prometheus
// metrics. Each scrape runs one discovery through the configured source and
// reports the shape of the resulting graph.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/fabric"
	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

const namespace = "ibfabric"

// Source yields a freshly discovered fabric snapshot per scrape.
type Source interface {
	Fabric(ctx context.Context) (*fabric.Fabric, error)
}

// Option configures collector behavior.
type Option func(*FabricCollector)

// FabricCollector implements prometheus.Collector over fabric snapshots.
type FabricCollector struct {
	source Source
	logger *slog.Logger

	scrapeTimeout time.Duration
	portMetrics   bool

	up           *prometheus.Desc
	duration     *prometheus.Desc
	nodesDesc    *prometheus.Desc
	portsDesc    *prometheus.Desc
	linksDesc    *prometheus.Desc
	maxHopsDesc  *prometheus.Desc
	chassisDesc  *prometheus.Desc
	portInfoDesc *prometheus.Desc

	scrapeErrors prometheus.Counter

	collectMu sync.Mutex
}

// New creates a fabric collector reading from the provided source.
func New(source Source, logger *slog.Logger, opts ...Option) *FabricCollector {
	if logger == nil {
		logger = slog.Default()
	}

	c := &FabricCollector{
		source:      source,
		logger:      logger,
		portMetrics: true,
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"Was the last fabric discovery successful.",
			nil,
			nil,
		),
		duration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "discovery_duration_seconds"),
			"Duration of the fabric discovery in seconds.",
			nil,
			nil,
		),
		nodesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "nodes"),
			"Number of discovered fabric nodes by type.",
			[]string{"type"},
			nil,
		),
		portsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "ports"),
			"Number of discovered physical ports.",
			nil,
			nil,
		),
		linksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "links"),
			"Number of discovered port-to-port links.",
			nil,
			nil,
		),
		maxHopsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "max_hops_discovered"),
			"Length of the deepest directed-route path probed.",
			nil,
			nil,
		),
		chassisDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "chassis"),
			"Number of chassis groups in the fabric.",
			nil,
			nil,
		),
		portInfoDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "port", "info"),
			"Discovered port metadata exported as labels.",
			[]string{"node_guid", "node_type", "node_desc", "port", "base_lid", "phys_state", "linked"},
			nil,
		),
		scrapeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "", "scrape_errors_total"),
			Help: "Total number of failed fabric discoveries.",
		}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithScrapeTimeout sets a deadline on the context handed to the source for
// a single scrape. A discovery that is already running is not interrupted by
// it; only a source that checks the context stops early.
func WithScrapeTimeout(d time.Duration) Option {
	return func(c *FabricCollector) { c.scrapeTimeout = d }
}

// WithPortMetrics toggles the per-port info metric; large fabrics may want
// it off to keep cardinality down.
func WithPortMetrics(on bool) Option {
	return func(c *FabricCollector) { c.portMetrics = on }
}

// Describe implements prometheus.Collector.
func (c *FabricCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.duration
	ch <- c.nodesDesc
	ch <- c.portsDesc
	ch <- c.linksDesc
	ch <- c.maxHopsDesc
	ch <- c.chassisDesc
	ch <- c.portInfoDesc
	c.scrapeErrors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *FabricCollector) Collect(ch chan<- prometheus.Metric) {
	c.collectMu.Lock()
	defer c.collectMu.Unlock()

	ctx := context.Background()
	if c.scrapeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.scrapeTimeout)
		defer cancel()
	}

	start := time.Now()
	f, err := c.source.Fabric(ctx)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		c.logger.Warn("fabric discovery failed", "err", err)
		c.scrapeErrors.Inc()
		c.scrapeErrors.Collect(ch)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.duration, prometheus.GaugeValue, elapsed)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.duration, prometheus.GaugeValue, elapsed)

	for _, t := range []mad.NodeType{mad.NodeCA, mad.NodeSwitch, mad.NodeRouter} {
		count := 0
		f.IterNodesOfKind(t, func(*fabric.Node) { count++ })
		ch <- prometheus.MustNewConstMetric(c.nodesDesc, prometheus.GaugeValue, float64(count), t.String())
	}

	ports, linkEnds := 0, 0
	f.IterNodes(func(n *fabric.Node) {
		for p := 1; p <= n.NumPorts; p++ {
			port := n.Port(p)
			if port == nil {
				continue
			}
			ports++
			if port.Remote != nil {
				linkEnds++
			}
			if c.portMetrics {
				c.collectPortInfo(ch, n, port)
			}
		}
	})
	ch <- prometheus.MustNewConstMetric(c.portsDesc, prometheus.GaugeValue, float64(ports))
	ch <- prometheus.MustNewConstMetric(c.linksDesc, prometheus.GaugeValue, float64(linkEnds)/2)
	ch <- prometheus.MustNewConstMetric(c.maxHopsDesc, prometheus.GaugeValue, float64(f.MaxHopsDiscovered))

	chassis := 0
	for g := f.Chassis; g != nil; g = g.Next {
		chassis++
	}
	ch <- prometheus.MustNewConstMetric(c.chassisDesc, prometheus.GaugeValue, float64(chassis))

	c.scrapeErrors.Collect(ch)
	c.logger.Debug("fabric scraped", "ports", ports, "duration_seconds", elapsed)
}

func (c *FabricCollector) collectPortInfo(ch chan<- prometheus.Metric, n *fabric.Node, port *fabric.Port) {
	linked := "false"
	if port.Remote != nil {
		linked = "true"
	}
	ch <- prometheus.MustNewConstMetric(
		c.portInfoDesc,
		prometheus.GaugeValue,
		1,
		fmt.Sprintf("0x%016x", n.GUID),
		n.Type.String(),
		n.Desc,
		strconv.Itoa(port.PortNum),
		strconv.Itoa(int(port.BaseLID)),
		mad.PhysStateName(port.PhysState()),
		linked,
	)
}
