package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nwp_consumer"

// Metrics holds the Prometheus counters, histograms, and gauges for the consumer.
type Metrics struct {
	FilesDownloaded   prometheus.Counter
	FilesSkipped      prometheus.Counter
	DownloadErrors    prometheus.Counter
	BytesStored       prometheus.Counter
	DatasetsConverted prometheus.Counter
	ConvertErrors     prometheus.Counter
	PipelineRunning   prometheus.Gauge
	InitTimeDuration  prometheus.Histogram
	Notifications     *prometheus.CounterVec // labels: outcome={success,error}

	// Upstream HTTP metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: source, outcome={success,error,not_found,retry}
	UpstreamDuration *prometheus.HistogramVec // labels: source
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FilesDownloaded,
		m.FilesSkipped,
		m.DownloadErrors,
		m.BytesStored,
		m.DatasetsConverted,
		m.ConvertErrors,
		m.PipelineRunning,
		m.InitTimeDuration,
		m.Notifications,
		m.UpstreamRequests,
		m.UpstreamDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_downloaded_total",
			Help:      "Raw files downloaded and committed to the raw store.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Raw files already present in the raw store.",
		}),
		DownloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_errors_total",
			Help:      "Files that failed to download.",
		}),
		BytesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_bytes_total",
			Help:      "Bytes written to the raw and zarr stores.",
		}),
		DatasetsConverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasets_converted_total",
			Help:      "Init times converted to zarr.",
		}),
		ConvertErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "convert_errors_total",
			Help:      "Init times that failed to convert.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a command is processing init times, 0 otherwise.",
		}),
		InitTimeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "init_time_duration_seconds",
			Help:      "Time spent processing one init time.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Converted init time notifications by outcome.",
		}, []string{"outcome"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream HTTP requests by source and outcome.",
		}, []string{"source", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
	}
}
