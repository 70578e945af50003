// Package runmetrics exports the outcome of backup runs as Prometheus metrics.
//
// A backup run is a short-lived batch job, so the metrics are meant for the
// node_exporter textfile collector: after each run the registry is written to
// a .prom file that the exporter picks up.
package runmetrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pgl_tsbackup"

// Run is the outcome of one backup run.
type Run struct {
	Time     time.Time
	Duration time.Duration
	Success  bool

	Copied      int
	Skipped     int
	Failed      int
	Retried     int
	Removed     int
	Spared      int
	Unparseable int

	BytesWritten      int64
	WatermarkAdvanced bool
}

// Collector holds the run metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	runsTotal         *prometheus.CounterVec
	filesTotal        *prometheus.CounterVec
	bytesWrittenTotal prometheus.Counter

	lastRunTimestamp *prometheus.GaugeVec
	lastRunDuration  prometheus.Gauge
	lastRunSuccess   prometheus.Gauge
	lastRunFiles     *prometheus.GaugeVec
	watermarkAdvance prometheus.Gauge
}

// NewCollector creates a collector and registers its metrics on registry.
// A nil registry gets a fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Backup runs by result.",
		}, []string{"result"}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files handled across runs by action.",
		}, []string{"action"}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written to the destination across runs.",
		}),
		lastRunTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the last run by result.",
		}, []string{"result"}),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run completed, 0 if it failed.",
		}),
		lastRunFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_files",
			Help:      "Files handled by the last run by action.",
		}, []string{"action"}),
		watermarkAdvance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_watermark_advanced",
			Help:      "1 if the last run moved the last backup time forward.",
		}),
	}

	registry.MustRegister(
		c.runsTotal,
		c.filesTotal,
		c.bytesWrittenTotal,
		c.lastRunTimestamp,
		c.lastRunDuration,
		c.lastRunSuccess,
		c.lastRunFiles,
		c.watermarkAdvance,
	)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observe records a finished run.
func (c *Collector) Observe(r Run) {
	result := "success"
	if !r.Success {
		result = "failure"
	}
	c.runsTotal.WithLabelValues(result).Inc()
	c.lastRunTimestamp.WithLabelValues(result).Set(float64(r.Time.Unix()))
	c.lastRunDuration.Set(r.Duration.Seconds())
	c.lastRunSuccess.Set(boolToFloat(r.Success))
	c.watermarkAdvance.Set(boolToFloat(r.WatermarkAdvanced))
	c.bytesWrittenTotal.Add(float64(r.BytesWritten))

	for action, n := range map[string]int{
		"copied":      r.Copied,
		"skipped":     r.Skipped,
		"failed":      r.Failed,
		"retried":     r.Retried,
		"removed":     r.Removed,
		"spared":      r.Spared,
		"unparseable": r.Unparseable,
	} {
		c.lastRunFiles.WithLabelValues(action).Set(float64(n))
		c.filesTotal.WithLabelValues(action).Add(float64(n))
	}
}

// WriteTextfile writes the registry in the text exposition format to path.
// The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
