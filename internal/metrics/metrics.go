// ============================================================================
// Pacemaker Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集並暴露跑步過程的指標，支持 Prometheus 抓取
//
// 指標分類:
//
//   1. 計數器 (Counter) - 累計值，只增不減：
//      - pacemaker_samples_total{result}: 定位樣本驗證結果
//        （accepted, low_accuracy, jitter, too_fast, out_of_bounds）
//      - pacemaker_feedback_total{kind,status}: 已發出的回饋
//      - pacemaker_runs_finished_total{outcome}: 結束的跑步（goal / stopped）
//      - pacemaker_speech_total{result}: 語音播放結果（spoken / interrupted / failed）
//      - pacemaker_recovered_samples_total: 背景恢復時重放並接受的樣本
//
//   2. 分佈 (Histogram)：
//      - pacemaker_speech_duration_seconds: 每次語音播放時間
//
//   3. 瞬時值 (Gauge)：
//      - pacemaker_distance_km / pacemaker_elapsed_seconds
//      - pacemaker_pace_minutes_per_km（尚無配速時為 0）
//      - pacemaker_progress_ratio（0..1）
//      - pacemaker_session_state{state}: 目前狀態為 1，其餘為 0
//      - pacemaker_recovery_gap_seconds: 最近一次背景恢復的時間跳躍
//
// Prometheus 查詢示例:
//
//   # 樣本拒絕率
//   sum(rate(pacemaker_samples_total{result!="accepted"}[5m]))
//     / sum(rate(pacemaker_samples_total[5m]))
//
//   # 達成目標的比例
//   pacemaker_runs_finished_total{outcome="goal"}
//     / sum(pacemaker_runs_finished_total)
//
// HTTP 端點:
//   通過 /metrics 端點暴露，預設端口 9090
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ChuLiYu/pacemaker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pacemaker"

// Collector Prometheus 指標收集器
type Collector struct {
	// 計數器
	samples      *prometheus.CounterVec
	feedback     *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	speech       *prometheus.CounterVec
	recovered    prometheus.Counter

	// 分佈
	speechDuration prometheus.Histogram

	// 即時狀態
	distance    prometheus.Gauge
	elapsed     prometheus.Gauge
	pace        prometheus.Gauge
	progress    prometheus.Gauge
	state       *prometheus.GaugeVec
	recoveryGap prometheus.Gauge
}

// NewCollector 建立並註冊指標收集器
//
// 參數：
//   - reg: 註冊目標，nil 時使用 prometheus.DefaultRegisterer
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Position samples seen, by validation result",
		}, []string{"result"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_total",
			Help:      "Feedback messages emitted, by kind and pace status",
		}, []string{"kind", "status"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Runs finished, by outcome",
		}, []string{"outcome"}),
		speech: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_total",
			Help:      "Speech playback attempts, by result",
		}, []string{"result"}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_samples_total",
			Help:      "Buffered samples accepted when resuming from the background",
		}),
		speechDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_duration_seconds",
			Help:      "Time spent speaking one utterance",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13},
		}),
		distance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "distance_km",
			Help:      "Distance covered in the current run",
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "elapsed_seconds",
			Help:      "Elapsed time of the current run",
		}),
		pace: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pace_minutes_per_km",
			Help:      "Average pace of the current run, 0 while undefined",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_ratio",
			Help:      "Fraction of the goal distance covered",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		recoveryGap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_gap_seconds",
			Help:      "Elapsed time jump at the last background resume",
		}),
	}

	reg.MustRegister(
		c.samples,
		c.feedback,
		c.runsFinished,
		c.speech,
		c.recovered,
		c.speechDuration,
		c.distance,
		c.elapsed,
		c.pace,
		c.progress,
		c.state,
		c.recoveryGap,
	)

	return c
}

// ObserveSample 記錄一筆樣本的驗證結果
func (c *Collector) ObserveSample(result string) {
	c.samples.WithLabelValues(result).Inc()
}

// ObserveFeedback 記錄一則回饋；非配速回饋的 status 為空字串
func (c *Collector) ObserveFeedback(kind, status string) {
	c.feedback.WithLabelValues(kind, status).Inc()
}

// ObserveSnapshot 更新即時狀態
func (c *Collector) ObserveSnapshot(s types.Snapshot) {
	c.distance.Set(s.Metrics.DistanceKm)
	c.elapsed.Set(float64(s.Metrics.ElapsedSeconds))
	if s.Metrics.Pace.Valid {
		c.pace.Set(s.Metrics.Pace.MinPerKm)
	} else {
		c.pace.Set(0)
	}
	c.progress.Set(s.Progress() / 100)

	for _, st := range []types.SessionState{types.StateWaiting, types.StateRunning, types.StateFinished} {
		v := 0.0
		if st == s.State {
			v = 1
		}
		c.state.WithLabelValues(string(st)).Set(v)
	}
}

// ObserveRecovery 記錄一次背景恢復
func (c *Collector) ObserveRecovery(accepted int, gapSeconds int64) {
	c.recovered.Add(float64(accepted))
	c.recoveryGap.Set(float64(gapSeconds))
}

// ObserveRunFinished 記錄一次結束的跑步
func (c *Collector) ObserveRunFinished(run types.CompletedRun) {
	outcome := "stopped"
	if run.CompletedGoal {
		outcome = "goal"
	}
	c.runsFinished.WithLabelValues(outcome).Inc()
}

// ObserveSpeech 記錄一次語音播放
func (c *Collector) ObserveSpeech(err error, d time.Duration) {
	switch {
	case errors.Is(err, context.Canceled):
		// 被下一句打斷，不算失敗
		c.speech.WithLabelValues("interrupted").Inc()
		return
	case err != nil:
		c.speech.WithLabelValues("failed").Inc()
		return
	}
	c.speech.WithLabelValues("spoken").Inc()
	c.speechDuration.Observe(d.Seconds())
}

// NewServer 建立 Prometheus metrics HTTP 伺服器
//
// 參數：
//   - port: HTTP 伺服器端口
//   - g: 指標來源，nil 時使用 prometheus.DefaultGatherer
func NewServer(port int, g prometheus.Gatherer) *http.Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
