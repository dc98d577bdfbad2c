// Package metrics exposes the run's aggregate counters over Prometheus, a
// domain-stack addition beyond spec.md's scope wired to exercise
// github.com/prometheus/client_golang, grounded on
// skycoin-skywire-testnet/cmd/setup-node/commands/root.go's promhttp.Handler
// background-goroutine pattern.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tpn/ctstraffic/internal/broker"
	"github.com/tpn/ctstraffic/internal/stats"
)

// Collector bridges internal/stats.Global and internal/broker.Broker into
// Prometheus gauges, refreshed on scrape via a prometheus.Collector.
type Collector struct {
	global *stats.Global
	b      *broker.Broker

	bytesSent      *prometheus.Desc
	bytesRecv      *prometheus.Desc
	connectionsOK  *prometheus.Desc
	connectionsErr *prometheus.Desc
	pending        *prometheus.Desc
	active         *prometheus.Desc
	jitterSeconds  *prometheus.Desc
}

// NewCollector builds a Collector over the given aggregates.
func NewCollector(global *stats.Global, b *broker.Broker) *Collector {
	return &Collector{
		global:         global,
		b:              b,
		bytesSent:      prometheus.NewDesc("ctstraffic_bytes_sent_total", "Total bytes sent across all connections.", nil, nil),
		bytesRecv:      prometheus.NewDesc("ctstraffic_bytes_received_total", "Total bytes received across all connections.", nil, nil),
		connectionsOK:  prometheus.NewDesc("ctstraffic_connections_succeeded_total", "Connections that completed without a fault.", nil, nil),
		connectionsErr: prometheus.NewDesc("ctstraffic_connections_failed_total", "Connections that completed with a fault.", nil, nil),
		pending:        prometheus.NewDesc("ctstraffic_connections_pending", "Connections currently pending (socket not yet established).", nil, nil),
		active:         prometheus.NewDesc("ctstraffic_connections_active", "Connections currently performing I/O.", nil, nil),
		jitterSeconds:  prometheus.NewDesc("ctstraffic_datagram_mean_jitter_seconds", "Mean interarrival jitter averaged across finished datagram connections.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesSent
	ch <- c.bytesRecv
	ch <- c.connectionsOK
	ch <- c.connectionsErr
	ch <- c.pending
	ch <- c.active
	ch <- c.jitterSeconds
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(c.global.TotalBytesSent()))
	ch <- prometheus.MustNewConstMetric(c.bytesRecv, prometheus.CounterValue, float64(c.global.TotalBytesRecv()))
	ch <- prometheus.MustNewConstMetric(c.connectionsOK, prometheus.CounterValue, float64(c.global.ConnectionsOK()))
	ch <- prometheus.MustNewConstMetric(c.connectionsErr, prometheus.CounterValue, float64(c.global.ConnectionsErr()))

	pending, active, _ := c.b.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(pending))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(active))
	ch <- prometheus.MustNewConstMetric(c.jitterSeconds, prometheus.GaugeValue, c.global.MeanJitter().Seconds())
}

// Serve starts a background HTTP server exposing /metrics on addr and
// returns immediately; it stops when ctx is cancelled. A non-nil error is
// only possible synchronously, from a bad listen address.
func Serve(ctx context.Context, addr string, collector *Collector, log *zap.SugaredLogger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Warnw("metrics server stopped", "err", err)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return nil
}
