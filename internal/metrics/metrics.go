package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
)

const namespace = "riskmodel"

// Metrics Prometheus 수집기 묶음
// 전역 레지스트리 대신 주입된 Registerer 사용 (테스트마다 새 레지스트리)
type Metrics struct {
	gatherer prometheus.Gatherer

	optimizerRuns     *prometheus.CounterVec
	optimizerRetries  *prometheus.CounterVec
	optimizerDuration *prometheus.HistogramVec

	riskRequests *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New 레지스트리에 수집기 등록
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		optimizerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "optimizer",
				Name:      "runs_total",
				Help:      "Optimizer runs by preset and terminal status",
			},
			[]string{"preset", "status"},
		),
		optimizerRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "optimizer",
				Name:      "retries_total",
				Help:      "Optimizer runs that needed the regularized retry",
			},
			[]string{"preset"},
		),
		optimizerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "optimizer",
				Name:      "run_duration_seconds",
				Help:      "Wall time of optimizer runs",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"preset"},
		),

		riskRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "risk",
				Name:      "requests_total",
				Help:      "Risk calculator requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Decomposition cache lookups",
			},
			[]string{"result"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveRun optimizer.Observer 구현
func (m *Metrics) ObserveRun(preset optimizer.Preset, status optimizer.Status, attempts int, elapsed time.Duration) {
	m.optimizerRuns.WithLabelValues(string(preset), string(status)).Inc()
	if attempts > 1 {
		m.optimizerRetries.WithLabelValues(string(preset)).Inc()
	}
	m.optimizerDuration.WithLabelValues(string(preset)).Observe(elapsed.Seconds())
}

// ObserveRisk 리스크 계산 요청 (err != nil → outcome=error)
func (m *Metrics) ObserveRisk(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.riskRequests.WithLabelValues(operation, outcome).Inc()
}

// ObserveCache 캐시 조회 결과
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveHTTP HTTP 요청 1건
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler /metrics 핸들러
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

var _ optimizer.Observer = (*Metrics)(nil)
