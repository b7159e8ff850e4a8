// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// HTTP層、リアルタイム同期、ワーカーから利用する。
// realtime.Metrics、recent.ViewCounter、storage.UploadCounterを満たす。
type MetricsCollector interface {
	IncRealtimeChange(collection, kind string)
	IncRealtimeReload(collection, reason string)
	IncLoadFailure(collection string)
	IncRecentView()
	IncUpload(source, result string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordCleanup(kind string, count int64)
	LiveStreamOpened()
	LiveStreamClosed()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	realtimeChanges *prometheus.CounterVec
	realtimeReloads *prometheus.CounterVec
	loadFailures    *prometheus.CounterVec
	recentViews     prometheus.Counter
	uploads         *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	cleanupDeleted  *prometheus.CounterVec
	liveStreams     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		realtimeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trinket_realtime_changes_total",
			Help: "反映した変更通知の数（コレクション・種別別）",
		}, []string{"collection", "kind"}),
		realtimeReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trinket_realtime_reloads_total",
			Help: "全件再読み込みの数（コレクション・理由別）",
		}, []string{"collection", "reason"}),
		loadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trinket_load_failures_total",
			Help: "コレクション読み込み失敗の数",
		}, []string{"collection"}),
		recentViews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trinket_recent_views_total",
			Help: "最近見た一覧に記録した閲覧の合計数",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trinket_uploads_total",
			Help: "画像アップロードの数（取得元・結果別）",
		}, []string{"source", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trinket_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trinket_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trinket_cleanup_deleted_total",
			Help: "クリーンアップで削除した期限切れレコードの数",
		}, []string{"kind"}),
		liveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trinket_live_streams",
			Help: "接続中のライブ画面ストリーム数",
		}),
	}

	reg.MustRegister(
		c.realtimeChanges,
		c.realtimeReloads,
		c.loadFailures,
		c.recentViews,
		c.uploads,
		c.httpStatus,
		c.requestLatency,
		c.cleanupDeleted,
		c.liveStreams,
	)

	return c
}

// IncRealtimeChange は反映した変更通知を記録する。
func (c *Collector) IncRealtimeChange(collection, kind string) {
	c.realtimeChanges.WithLabelValues(collection, kind).Inc()
}

// IncRealtimeReload は全件再読み込みを記録する。
func (c *Collector) IncRealtimeReload(collection, reason string) {
	c.realtimeReloads.WithLabelValues(collection, reason).Inc()
}

// IncLoadFailure は読み込み失敗を記録する。
func (c *Collector) IncLoadFailure(collection string) {
	c.loadFailures.WithLabelValues(collection).Inc()
}

func (c *Collector) IncRecentView() {
	c.recentViews.Inc()
}

// IncUpload は画像アップロードの結果を記録する。
func (c *Collector) IncUpload(source, result string) {
	c.uploads.WithLabelValues(source, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordCleanup は削除した期限切れレコード数を記録する。
func (c *Collector) RecordCleanup(kind string, count int64) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

func (c *Collector) LiveStreamOpened() { c.liveStreams.Inc() }
func (c *Collector) LiveStreamClosed() { c.liveStreams.Dec() }

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集に失敗したメトリクスがあっても残りは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
