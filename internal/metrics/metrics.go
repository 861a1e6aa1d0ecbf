// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 検索・ジオコーディング・バッチ取得・永続化キューの各障害クラスを計測する。
type Collector struct {
	searchSuccess     prometheus.Counter
	searchFail        prometheus.Counter
	geocodeFallback   prometheus.Counter
	rehydratedTrials  prometheus.Counter
	persistSuccess    prometheus.Counter
	persistFail       prometheus.Counter
	persistDropped    prometheus.Counter
	persistQueueDepth prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		searchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialmatch_search_success_total",
			Help: "治験検索成功の合計数",
		}),
		searchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialmatch_search_fail_total",
			Help: "治験検索失敗（外部API障害）の合計数",
		}),
		geocodeFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialmatch_geocode_fallback_total",
			Help: "ジオコーディング失敗により郵便番号フォールバックした回数",
		}),
		rehydratedTrials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialmatch_rehydrated_trials_total",
			Help: "再取得で返却した治験の合計数",
		}),
		persistSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialmatch_persist_success_total",
			Help: "永続化したマッチ行の合計数",
		}),
		persistFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialmatch_persist_fail_total",
			Help: "バックグラウンド永続化ジョブ失敗の合計数",
		}),
		persistDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialmatch_persist_dropped_total",
			Help: "キュー満杯により破棄した永続化ジョブの合計数",
		}),
		persistQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trialmatch_persist_queue_depth",
			Help: "永続化キューの現在のジョブ数",
		}),
	}

	reg.MustRegister(
		c.searchSuccess,
		c.searchFail,
		c.geocodeFallback,
		c.rehydratedTrials,
		c.persistSuccess,
		c.persistFail,
		c.persistDropped,
		c.persistQueueDepth,
	)

	return c
}

// RecordSearchSuccess は検索成功を記録する。
func (c *Collector) RecordSearchSuccess() {
	c.searchSuccess.Inc()
}

// RecordSearchFailure は検索失敗を記録する。
func (c *Collector) RecordSearchFailure() {
	c.searchFail.Inc()
}

// RecordGeocodeFallback はジオコーディング失敗によるフォールバックを記録する。
func (c *Collector) RecordGeocodeFallback() {
	c.geocodeFallback.Inc()
}

// RecordRehydration は再取得で返却した治験数を記録する。
func (c *Collector) RecordRehydration(trialCount int) {
	c.rehydratedTrials.Add(float64(trialCount))
}

// RecordPersistSuccess は永続化したマッチ行数を記録する。
func (c *Collector) RecordPersistSuccess(count int) {
	c.persistSuccess.Add(float64(count))
}

// RecordPersistFailure は永続化ジョブの失敗を記録する。
func (c *Collector) RecordPersistFailure() {
	c.persistFail.Inc()
}

// RecordPersistDropped はキュー満杯によるジョブ破棄を記録する。
func (c *Collector) RecordPersistDropped() {
	c.persistDropped.Inc()
}

// SetPersistQueueDepth は永続化キューの現在の深さを記録する。
func (c *Collector) SetPersistQueueDepth(depth int) {
	c.persistQueueDepth.Set(float64(depth))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
