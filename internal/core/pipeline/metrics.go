package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "icapture"

var (
	// stageProcessedTotal 各阶段处理数
	stageProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_processed_total",
			Help:      "Total number of items processed by stage",
		},
		[]string{"stage"},
	)

	// stageErrorsTotal 各阶段错误数 (含 panic)
	stageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Total number of failed stage iterations",
		},
		[]string{"stage"},
	)

	// queueDroppedTotal 背压丢弃数
	queueDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Total number of items dropped by queue backpressure",
		},
		[]string{"queue"},
	)

	// queueDepth 队列当前长度
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of queued items",
		},
		[]string{"queue"},
	)

	// framePairsTotal 同步结果
	framePairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_pairs_total",
			Help:      "Total number of frame pairs by synchronization result",
		},
		[]string{"result"}, // synchronized, degraded
	)

	// decisionsTotal 判定结果
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of violation decisions by reason",
		},
		[]string{"reason"},
	)

	// inferenceDuration 检测+识别耗时
	inferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Histogram of detector and recognizer latency in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// persistDuration 单条违章持久化耗时
	persistDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Histogram of evidence capture and store latency in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// pipelineRunning 流水线是否运行
	pipelineRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "Whether the pipeline is running (1) or stopped (0)",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		stageProcessedTotal,
		stageErrorsTotal,
		queueDroppedTotal,
		queueDepth,
		framePairsTotal,
		decisionsTotal,
		inferenceDuration,
		persistDuration,
		pipelineRunning,
	}
)

// MustRegister 注册流水线指标
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(allMetrics...)
}
