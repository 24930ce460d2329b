// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/listwatch/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordRunSuccess()
	RecordRunFailure(reason string)
	RecordRunSkipped()
	RecordRunDuration(duration time.Duration)
	RecordReconcileOutcome(newCount, priceChanged, markedSold, expired, deferred int)
	RecordListingCounts(counts model.ListingCounts)
	RecordKPIQuery()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	runSuccess     prometheus.Counter
	runFail        *prometheus.CounterVec
	runSkipped     prometheus.Counter
	runDuration    prometheus.Histogram
	newListings    prometheus.Counter
	priceChanges   prometheus.Counter
	soldDetected   prometheus.Counter
	expiredSkipped prometheus.Counter
	deferred       prometheus.Counter
	listingsGauge  *prometheus.GaugeVec
	kpiQueries     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listwatch_pipeline_runs_success_total",
			Help: "パイプライン実行成功の合計数",
		}),
		runFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listwatch_pipeline_runs_fail_total",
			Help: "パイプライン実行失敗の理由別合計数",
		}, []string{"reason"}),
		runSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listwatch_pipeline_runs_skipped_total",
			Help: "処理済みスナップショットによりスキップされた実行数",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "listwatch_pipeline_run_duration_seconds",
			Help:    "パイプライン実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		newListings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listwatch_listings_new_total",
			Help: "新規に観測された出品の合計数",
		}),
		priceChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listwatch_price_change_events_total",
			Help: "生成された価格改定イベントの合計数",
		}),
		soldDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listwatch_sold_events_total",
			Help: "生成された売却推定イベントの合計数",
		}),
		expiredSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listwatch_expired_listings_total",
			Help: "高齢によりイベント無しでsoldへ遷移した出品の合計数",
		}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listwatch_deferred_judgements_total",
			Help: "猶予時間内のため判定保留とした消失の合計数",
		}),
		listingsGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "listwatch_listings",
			Help: "ステータス別の現在の出品数",
		}, []string{"status"}),
		kpiQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listwatch_kpi_queries_total",
			Help: "KPI照会の合計数",
		}),
	}

	reg.MustRegister(
		c.runSuccess,
		c.runFail,
		c.runSkipped,
		c.runDuration,
		c.newListings,
		c.priceChanges,
		c.soldDetected,
		c.expiredSkipped,
		c.deferred,
		c.listingsGauge,
		c.kpiQueries,
	)

	return c
}

// RecordRunSuccess はパイプライン実行成功を記録する。
func (c *Collector) RecordRunSuccess() {
	c.runSuccess.Inc()
}

// RecordRunFailure はパイプライン実行失敗を理由付きで記録する。
func (c *Collector) RecordRunFailure(reason string) {
	c.runFail.WithLabelValues(reason).Inc()
}

// RecordRunSkipped はスナップショット処理済みによるスキップを記録する。
func (c *Collector) RecordRunSkipped() {
	c.runSkipped.Inc()
}

// RecordRunDuration はパイプライン実行時間を記録する。
func (c *Collector) RecordRunDuration(duration time.Duration) {
	c.runDuration.Observe(duration.Seconds())
}

// RecordReconcileOutcome は照合結果の内訳を記録する。
func (c *Collector) RecordReconcileOutcome(newCount, priceChanged, markedSold, expired, deferred int) {
	c.newListings.Add(float64(newCount))
	c.priceChanges.Add(float64(priceChanged))
	c.soldDetected.Add(float64(markedSold))
	c.expiredSkipped.Add(float64(expired))
	c.deferred.Add(float64(deferred))
}

// RecordListingCounts はステータス別の出品数ゲージを更新する。
func (c *Collector) RecordListingCounts(counts model.ListingCounts) {
	c.listingsGauge.WithLabelValues(string(model.StatusActive)).Set(float64(counts.Active))
	c.listingsGauge.WithLabelValues(string(model.StatusSold)).Set(float64(counts.Sold))
}

// RecordKPIQuery はKPI照会を記録する。
func (c *Collector) RecordKPIQuery() {
	c.kpiQueries.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
