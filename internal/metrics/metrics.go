// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// デバイス認可スケジューラ、カレンダーサービス、ワーカーから利用する。
type MetricsCollector interface {
	RecordPollTick(verdict string)
	RecordPollOutcome(outcome string)
	RecordPollDuration(duration time.Duration)
	RecordCredentialSave(success bool)
	RecordDraftStarted(mode string)
	RecordDraftCommitted(mode string)
	RecordDraftsExpired(count int)
	RecordProviderCall(operation string, success bool, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	pollTicks       *prometheus.CounterVec
	pollOutcomes    *prometheus.CounterVec
	pollDuration    prometheus.Histogram
	credentialSaves *prometheus.CounterVec
	draftsStarted   *prometheus.CounterVec
	draftsCommitted *prometheus.CounterVec
	draftsExpired   prometheus.Counter
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calprov_device_poll_ticks_total",
			Help: "デバイス認可ポーリングの判定別ティック数",
		}, []string{"verdict"}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calprov_device_poll_outcomes_total",
			Help: "デバイス認可ポーリングの終了状態別件数",
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calprov_device_poll_duration_seconds",
			Help:    "デバイスコード発行から終了状態までの所要時間（秒）",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		credentialSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calprov_credential_saves_total",
			Help: "クレデンシャル保存の結果別件数",
		}, []string{"result"}),
		draftsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calprov_drafts_started_total",
			Help: "開始されたドラフト数",
		}, []string{"mode"}),
		draftsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calprov_drafts_committed_total",
			Help: "確定されたドラフト数",
		}, []string{"mode"}),
		draftsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calprov_drafts_expired_total",
			Help: "期限切れで破棄されたドラフト数",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calprov_provider_calls_total",
			Help: "カレンダープロバイダー呼び出しの操作・結果別件数",
		}, []string{"operation", "result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calprov_provider_latency_seconds",
			Help:    "カレンダープロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.pollTicks,
		c.pollOutcomes,
		c.pollDuration,
		c.credentialSaves,
		c.draftsStarted,
		c.draftsCommitted,
		c.draftsExpired,
		c.providerCalls,
		c.providerLatency,
	)

	return c
}

// RecordPollTick はポーリング1回分の判定を記録する。
func (c *Collector) RecordPollTick(verdict string) {
	c.pollTicks.WithLabelValues(verdict).Inc()
}

// RecordPollOutcome はポーリングの終了状態を記録する。
func (c *Collector) RecordPollOutcome(outcome string) {
	c.pollOutcomes.WithLabelValues(outcome).Inc()
}

// RecordPollDuration はポーリング全体の所要時間を記録する。
func (c *Collector) RecordPollDuration(duration time.Duration) {
	c.pollDuration.Observe(duration.Seconds())
}

// RecordCredentialSave はクレデンシャル保存の結果を記録する。
func (c *Collector) RecordCredentialSave(success bool) {
	c.credentialSaves.WithLabelValues(resultLabel(success)).Inc()
}

// RecordDraftStarted はドラフト開始を記録する。
func (c *Collector) RecordDraftStarted(mode string) {
	c.draftsStarted.WithLabelValues(mode).Inc()
}

// RecordDraftCommitted はドラフト確定を記録する。
func (c *Collector) RecordDraftCommitted(mode string) {
	c.draftsCommitted.WithLabelValues(mode).Inc()
}

// RecordDraftsExpired は期限切れで破棄されたドラフト数を記録する。
func (c *Collector) RecordDraftsExpired(count int) {
	c.draftsExpired.Add(float64(count))
}

// RecordProviderCall はプロバイダー呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordProviderCall(operation string, success bool, duration time.Duration) {
	c.providerCalls.WithLabelValues(operation, resultLabel(success)).Inc()
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
