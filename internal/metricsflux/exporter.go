// Package metricsflux periodically exports the process metrics registry
// to InfluxDB. Export is best-effort: a down Influx never blocks the
// pipeline.
package metricsflux

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

// DefaultInterval between export passes.
const DefaultInterval = 10 * time.Second

// Config names the Influx target.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Exporter walks the metrics registry and writes one point per metric.
type Exporter struct {
	client influxdb2.Client
	write  influxapi.WriteAPI
	tags   map[string]string
	logger log.Logger
}

// New builds an exporter, or nil when cfg.URL is empty (metrics stay
// in-process only).
func New(cfg Config, tags map[string]string) *Exporter {
	if cfg.URL == "" {
		return nil
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Exporter{
		client: client,
		write:  client.WriteAPI(cfg.Org, cfg.Bucket),
		tags:   tags,
		logger: log.New("module", "metricsflux"),
	}
}

// Run exports until ctx is cancelled, then flushes and closes.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer e.client.Close()
	for {
		select {
		case <-ctx.Done():
			e.write.Flush()
			return
		case <-ticker.C:
			e.export()
		}
	}
}

func (e *Exporter) export() {
	now := time.Now()
	metrics.DefaultRegistry.Each(func(name string, metric interface{}) {
		fields := map[string]interface{}{}
		switch m := metric.(type) {
		case metrics.Counter:
			fields["count"] = m.Snapshot().Count()
		case metrics.Gauge:
			fields["value"] = m.Snapshot().Value()
		case metrics.GaugeFloat64:
			fields["value"] = m.Snapshot().Value()
		case metrics.Meter:
			snap := m.Snapshot()
			fields["count"] = snap.Count()
			fields["m1"] = snap.Rate1()
		case metrics.Timer:
			snap := m.Snapshot()
			fields["count"] = snap.Count()
			fields["mean"] = snap.Mean()
			fields["p95"] = snap.Percentile(0.95)
		default:
			return
		}
		e.write.WritePoint(influxdb2.NewPoint(name, e.tags, fields, now))
	})
}
