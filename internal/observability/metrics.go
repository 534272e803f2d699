// Package observability は Prometheus メトリクスを提供します。
// すべてのメソッドは nil レシーバでも安全に呼び出せます。
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paperlingo"

// Metrics は翻訳処理のメトリクスをまとめたものです。
type Metrics struct {
	registry       *prometheus.Registry
	cacheLookups   *prometheus.CounterVec
	transformCalls *prometheus.CounterVec
	pagesDone      prometheus.Counter
	jobsRunning    prometheus.Gauge
	jobsFinished   *prometheus.CounterVec
}

// NewMetrics は独立したレジストリを持つ Metrics を作成します。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Translation cache lookups by result.",
		}, []string{"result"}),
		transformCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_attempts_total",
			Help:      "Calls to the translation backend by outcome.",
		}, []string{"outcome"}),
		pagesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_completed_total",
			Help:      "Pages written and checkpointed.",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently processing.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Job runs by terminal status.",
		}, []string{"status"}),
	}
	registry.MustRegister(
		m.cacheLookups,
		m.transformCalls,
		m.pagesDone,
		m.jobsRunning,
		m.jobsFinished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler は /metrics 用のハンドラーを返します。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry はテストや追加登録用にレジストリを返します。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CacheLookup はキャッシュ参照の結果を記録します。
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// TransformAttempt はバックエンド呼び出し1回の結果を記録します。
// outcome は ok, retry, permanent, exhausted のいずれかです。
func (m *Metrics) TransformAttempt(outcome string) {
	if m == nil {
		return
	}
	m.transformCalls.WithLabelValues(outcome).Inc()
}

// PageCompleted は完了ページ数を加算します。
func (m *Metrics) PageCompleted() {
	if m == nil {
		return
	}
	m.pagesDone.Inc()
}

// JobStarted は実行中ジョブ数を加算します。
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsRunning.Inc()
}

// JobFinished は実行中ジョブ数を減らし、終了ステータスを記録します。
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsRunning.Dec()
	m.jobsFinished.WithLabelValues(status).Inc()
}
