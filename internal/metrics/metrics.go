// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲートウェイ・ルーム・通知・取り込みの各層から利用する。
type MetricsCollector interface {
	SetActiveConnections(count int)
	SetActiveRooms(count int)
	RecordMessage()
	RecordMessageFlagged()
	RecordMessageBlocked()
	RecordNotificationsSent(count int)
	RecordEventDropped()
	RecordIngestSuccess(sourceURL string)
	RecordIngestFailure(sourceURL string, reason string)
	RecordIngestLatency(duration time.Duration)
	RecordReportsIngested(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	activeConnections prometheus.Gauge
	activeRooms       prometheus.Gauge
	messages          prometheus.Counter
	messagesFlagged   prometheus.Counter
	messagesBlocked   prometheus.Counter
	notificationsSent prometheus.Counter
	eventsDropped     prometheus.Counter
	ingestSuccess     prometheus.Counter
	ingestFail        *prometheus.CounterVec
	ingestLatency     prometheus.Histogram
	reportsIngested   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spotter_active_connections",
			Help: "現在のライブWebSocket接続数",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spotter_active_rooms",
			Help: "現在のアクティブチャットルーム数",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotter_messages_total",
			Help: "受理されたチャットメッセージの合計数",
		}),
		messagesFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotter_messages_flagged_total",
			Help: "フラグ付きで受理されたチャットメッセージの合計数",
		}),
		messagesBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotter_messages_blocked_total",
			Help: "ブロックされたチャットメッセージの合計数",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotter_notifications_sent_total",
			Help: "配信された近接通知の合計数（ユーザー単位）",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotter_events_dropped_total",
			Help: "送信バッファ満杯により破棄されたイベントの合計数",
		}),
		ingestSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotter_ingest_success_total",
			Help: "フィード取り込み成功の合計数",
		}),
		ingestFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotter_ingest_fail_total",
			Help: "フィード取り込み失敗の理由別合計数",
		}, []string{"reason"}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spotter_ingest_latency_seconds",
			Help:    "フィード取り込みのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		reportsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotter_reports_ingested_total",
			Help: "フィードから作成されたレポートの合計数",
		}),
	}

	reg.MustRegister(
		c.activeConnections,
		c.activeRooms,
		c.messages,
		c.messagesFlagged,
		c.messagesBlocked,
		c.notificationsSent,
		c.eventsDropped,
		c.ingestSuccess,
		c.ingestFail,
		c.ingestLatency,
		c.reportsIngested,
	)

	return c
}

// SetActiveConnections は現在のライブ接続数を記録する。
func (c *Collector) SetActiveConnections(count int) {
	c.activeConnections.Set(float64(count))
}

// SetActiveRooms は現在のアクティブルーム数を記録する。
func (c *Collector) SetActiveRooms(count int) {
	c.activeRooms.Set(float64(count))
}

// RecordMessage は受理されたメッセージを記録する。
func (c *Collector) RecordMessage() {
	c.messages.Inc()
}

// RecordMessageFlagged はフラグ付き受理を記録する。
func (c *Collector) RecordMessageFlagged() {
	c.messagesFlagged.Inc()
}

// RecordMessageBlocked はブロックを記録する。
func (c *Collector) RecordMessageBlocked() {
	c.messagesBlocked.Inc()
}

// RecordNotificationsSent は近接通知の配信ユーザー数を記録する。
func (c *Collector) RecordNotificationsSent(count int) {
	c.notificationsSent.Add(float64(count))
}

// RecordEventDropped はバッファ満杯によるイベント破棄を記録する。
func (c *Collector) RecordEventDropped() {
	c.eventsDropped.Inc()
}

// RecordIngestSuccess はフィード取り込み成功を記録する。
func (c *Collector) RecordIngestSuccess(sourceURL string) {
	c.ingestSuccess.Inc()
}

// RecordIngestFailure はフィード取り込み失敗を理由別に記録する。
func (c *Collector) RecordIngestFailure(sourceURL string, reason string) {
	c.ingestFail.WithLabelValues(reason).Inc()
}

// RecordIngestLatency はフィード取り込みのレイテンシを記録する。
func (c *Collector) RecordIngestLatency(duration time.Duration) {
	c.ingestLatency.Observe(duration.Seconds())
}

// RecordReportsIngested はフィードから作成されたレポート数を記録する。
func (c *Collector) RecordReportsIngested(count int) {
	c.reportsIngested.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
