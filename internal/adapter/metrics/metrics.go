package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process counters on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups      *prometheus.CounterVec
	cacheCeiling      prometheus.Gauge
	embedBatches      prometheus.Counter
	inferenceFailures prometheus.Counter
	filesIndexed      prometheus.Counter
	chunksIndexed     prometheus.Counter
	queryLatency      prometheus.Histogram
	degradedQueries   prometheus.Counter
	backendFallbacks  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codesearch",
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by result (hit, miss, disk_hit).",
		}, []string{"result"}),
		cacheCeiling: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codesearch",
			Name:      "embedding_cache_ceiling",
			Help:      "Current in-memory entry ceiling of the embedding cache.",
		}),
		embedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesearch",
			Name:      "embed_batches_total",
			Help:      "Embedding model batch calls.",
		}),
		inferenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesearch",
			Name:      "inference_failures_total",
			Help:      "Items that failed embedding after retry.",
		}),
		filesIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesearch",
			Name:      "files_indexed_total",
			Help:      "Files written to the index.",
		}),
		chunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesearch",
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the index.",
		}),
		queryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "codesearch",
			Name:      "query_duration_seconds",
			Help:      "Hybrid query latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		degradedQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesearch",
			Name:      "degraded_queries_total",
			Help:      "Queries answered with only one of the lexical or semantic sides.",
		}),
		backendFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesearch",
			Name:      "text_backend_fallbacks_total",
			Help:      "Times auto selection fell back to the filesystem backend.",
		}),
	}

	m.registry.MustRegister(
		m.cacheLookups,
		m.cacheCeiling,
		m.embedBatches,
		m.inferenceFailures,
		m.filesIndexed,
		m.chunksIndexed,
		m.queryLatency,
		m.degradedQueries,
		m.backendFallbacks,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) CacheDiskHit() {
	if m != nil {
		m.cacheLookups.WithLabelValues("disk_hit").Inc()
	}
}

func (m *Metrics) SetCacheCeiling(n int) {
	if m != nil {
		m.cacheCeiling.Set(float64(n))
	}
}

func (m *Metrics) EmbedBatch() {
	if m != nil {
		m.embedBatches.Inc()
	}
}

func (m *Metrics) InferenceFailure() {
	if m != nil {
		m.inferenceFailures.Inc()
	}
}

func (m *Metrics) FileIndexed(chunks int) {
	if m != nil {
		m.filesIndexed.Inc()
		m.chunksIndexed.Add(float64(chunks))
	}
}

func (m *Metrics) Query(elapsed time.Duration, degraded bool) {
	if m == nil {
		return
	}
	m.queryLatency.Observe(elapsed.Seconds())
	if degraded {
		m.degradedQueries.Inc()
	}
}

func (m *Metrics) BackendFallback() {
	if m != nil {
		m.backendFallbacks.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
