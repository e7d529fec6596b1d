// Package metrics はキャプチャ実行のPrometheusメトリクスを提供する
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "multicam"

// フレーム結果のラベル値
const (
	ResultCollected  = "collected"
	ResultIncomplete = "incomplete"
	ResultConversion = "conversion_error"
	ResultTimeout    = "timeout"
)

// Metrics は1つのレジストリにまとめたメトリクス群
// nilのMetricsに対する呼び出しは何もしない
type Metrics struct {
	registry *prometheus.Registry

	framesTotal      *prometheus.CounterVec
	retrievalSeconds *prometheus.HistogramVec
	exportsTotal     *prometheus.CounterVec
	camerasActive    prometheus.Gauge
	targetFrames     prometheus.Gauge
	currentIndex     prometheus.Gauge
}

// New は新しいレジストリにメトリクスを登録して返す
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Total number of frame retrievals by camera and result",
			},
			[]string{"camera", "result"}, // result: collected, incomplete, conversion_error, timeout
		),
		retrievalSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "frame_retrieval_seconds",
				Help:      "Histogram of frame retrieval duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"camera"},
		),
		exportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exports_total",
				Help:      "Total number of video exports by codec and result",
			},
			[]string{"codec", "result"}, // result: success, empty, open_failed, append_failed
		),
		camerasActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cameras_active",
				Help:      "Number of cameras currently acquiring",
			},
		),
		targetFrames: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "target_frames",
				Help:      "Configured number of frames per camera",
			},
		),
		currentIndex: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "frame_index",
				Help:      "Last frame index completed by all cameras",
			},
		),
	}

	m.registry.MustRegister(
		m.framesTotal,
		m.retrievalSeconds,
		m.exportsTotal,
		m.camerasActive,
		m.targetFrames,
		m.currentIndex,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry はレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler は /metrics 用のハンドラーを返す
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Frame はフレーム取得の結果を記録する
func (m *Metrics) Frame(camera int, result string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(strconv.Itoa(camera), result).Inc()
}

// ObserveRetrieval はフレーム取得にかかった時間を記録する
func (m *Metrics) ObserveRetrieval(camera int, d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalSeconds.WithLabelValues(strconv.Itoa(camera)).Observe(d.Seconds())
}

// Export は動画書き出しの結果を記録する
func (m *Metrics) Export(codec, result string) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(codec, result).Inc()
}

// SetCamerasActive は取得中のカメラ台数を設定する
func (m *Metrics) SetCamerasActive(n int) {
	if m == nil {
		return
	}
	m.camerasActive.Set(float64(n))
}

// SetTarget は目標フレーム数を設定する
func (m *Metrics) SetTarget(frames int) {
	if m == nil {
		return
	}
	m.targetFrames.Set(float64(frames))
}

// SetIndex は全カメラが完了したフレーム番号を設定する
func (m *Metrics) SetIndex(index int) {
	if m == nil {
		return
	}
	m.currentIndex.Set(float64(index))
}
