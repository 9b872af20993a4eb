// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ガード、バックエンドクライアント、セッションマネージャー、ワーカーから利用する。
type MetricsCollector interface {
	RecordGuardDecision(guard string, outcome string)
	RecordBackendResponse(method string, statusCode int, duration time.Duration)
	RecordBackendNetworkError(method string)
	RecordForcedLogout()
	SetActiveStores(n int)
	RecordSnapshotsPurged(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardDecisions   *prometheus.CounterVec
	backendStatus    *prometheus.CounterVec
	backendLatency   prometheus.Histogram
	backendNetErrors *prometheus.CounterVec
	forcedLogouts    prometheus.Counter
	activeStores     prometheus.Gauge
	snapshotsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servease_console_guard_decisions_total",
			Help: "ガードチェーンの判定結果別の件数",
		}, []string{"guard", "outcome"}),
		backendStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servease_console_backend_responses_total",
			Help: "バックエンドAPIのステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
		backendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "servease_console_backend_latency_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		backendNetErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servease_console_backend_network_errors_total",
			Help: "レスポンスを受け取れなかったバックエンドAPI呼び出しの数",
		}, []string{"method"}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servease_console_forced_logouts_total",
			Help: "401応答による強制ログアウトの合計数",
		}),
		activeStores: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "servease_console_active_session_stores",
			Help: "メモリ上に保持しているセッションストアの数",
		}),
		snapshotsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servease_console_snapshots_purged_total",
			Help: "期限切れで削除されたセッションスナップショットの合計数",
		}),
	}

	reg.MustRegister(
		c.guardDecisions,
		c.backendStatus,
		c.backendLatency,
		c.backendNetErrors,
		c.forcedLogouts,
		c.activeStores,
		c.snapshotsPurged,
	)

	return c
}

// RecordGuardDecision はガード判定を記録する。全ガード通過時のguardは空文字列。
func (c *Collector) RecordGuardDecision(guard string, outcome string) {
	if guard == "" {
		guard = "none"
	}
	c.guardDecisions.WithLabelValues(guard, outcome).Inc()
}

// RecordBackendResponse はバックエンドAPIのレスポンスを記録する。
func (c *Collector) RecordBackendResponse(method string, statusCode int, duration time.Duration) {
	c.backendStatus.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.backendLatency.Observe(duration.Seconds())
}

// RecordBackendNetworkError はネットワークエラーを記録する。
func (c *Collector) RecordBackendNetworkError(method string) {
	c.backendNetErrors.WithLabelValues(method).Inc()
}

// RecordForcedLogout は強制ログアウトを記録する。
func (c *Collector) RecordForcedLogout() {
	c.forcedLogouts.Inc()
}

// SetActiveStores はメモリ上のセッションストア数を設定する。
func (c *Collector) SetActiveStores(n int) {
	c.activeStores.Set(float64(n))
}

// RecordSnapshotsPurged は削除されたスナップショット数を記録する。
func (c *Collector) RecordSnapshotsPurged(count int) {
	c.snapshotsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集中のエラーは取得できたメトリクスを返したうえでログに残す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	})
}
