package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ResourceLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incidentmap_resource_loads_total",
		Help: "Resource loads started by the readiness registry, by outcome",
	}, []string{"status"})
	ResourceLoadDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "incidentmap_resource_load_duration_ms",
		Help:    "Resource load duration in milliseconds",
		Buckets: []float64{5, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	})
	ReadyCallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incidentmap_ready_callbacks_total",
		Help: "Readiness callbacks invoked, by outcome",
	}, []string{"status"})
	FeedFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incidentmap_feed_fetch_total",
		Help: "Feed and result-set fetches, by source and outcome",
	}, []string{"source", "status"})
	FeedFetchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "incidentmap_feed_fetch_duration_ms",
		Help:    "Feed fetch duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000},
	}, []string{"source"})
	FeedCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidentmap_feed_cache_hits_total",
		Help: "Incident feed cache hits",
	})
	FeedCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidentmap_feed_cache_misses_total",
		Help: "Incident feed cache misses",
	})
	SyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incidentmap_sync_total",
		Help: "Sync cycles, by outcome",
	}, []string{"status"})
	SyncDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "incidentmap_sync_duration_ms",
		Help:    "Sync cycle duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	JoinParseMissTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidentmap_join_parse_miss_total",
		Help: "Matched records whose measure was not numeric",
	})
	BatchMax = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "incidentmap_batch_max",
		Help: "Normalization bound of the most recent edit batch",
	})
	SelectionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "incidentmap_selection_events_total",
		Help: "Selection notifications emitted, by kind",
	}, []string{"event"})
)

func init() {
	prometheus.MustRegister(ResourceLoadsTotal)
	prometheus.MustRegister(ResourceLoadDurationMs)
	prometheus.MustRegister(ReadyCallbacksTotal)
	prometheus.MustRegister(FeedFetchTotal)
	prometheus.MustRegister(FeedFetchDurationMs)
	prometheus.MustRegister(FeedCacheHitsTotal)
	prometheus.MustRegister(FeedCacheMissesTotal)
	prometheus.MustRegister(SyncTotal)
	prometheus.MustRegister(SyncDurationMs)
	prometheus.MustRegister(JoinParseMissTotal)
	prometheus.MustRegister(BatchMax)
	prometheus.MustRegister(SelectionEventsTotal)
}

// 文档注释：返回 Prometheus 指标处理器，由宿主挂载到 /metrics
func Handler() http.Handler { return promhttp.Handler() }
