package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 同步引擎指标
var (
	// 消息写入结果（inserted / replaced / duplicate），按来源区分
	StoreApplyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desk",
			Subsystem: "sync",
			Name:      "store_apply_total",
			Help:      "Messages applied to the store by source and result",
		},
		[]string{"source", "result"},
	)

	// 临时消息回滚次数
	RollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "desk",
			Subsystem: "sync",
			Name:      "rollbacks_total",
			Help:      "Provisional messages rolled back after a failed send",
		},
	)

	// 历史加载耗时
	HistoryLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "desk",
			Subsystem: "sync",
			Name:      "history_load_duration_seconds",
			Help:      "History fetch duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"status"},
	)

	// 发送结果
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desk",
			Subsystem: "sync",
			Name:      "sends_total",
			Help:      "Operator sends by outcome",
		},
		[]string{"status"},
	)

	// 推送事件
	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desk",
			Subsystem: "channel",
			Name:      "events_total",
			Help:      "Push channel events by type",
		},
		[]string{"type"},
	)

	// 推送通道连接状态（1 已连接，0 断开）
	ChannelConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "desk",
			Subsystem: "channel",
			Name:      "connected",
			Help:      "Whether the push channel is connected",
		},
	)

	// 额度刷新
	QuotaRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desk",
			Subsystem: "quota",
			Name:      "refresh_total",
			Help:      "Usage refreshes triggered by automated replies",
		},
		[]string{"status"},
	)

	// 剩余额度
	QuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "desk",
			Subsystem: "quota",
			Name:      "remaining",
			Help:      "Remaining automated reply quota",
		},
	)
)

// 开发后端指标
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desk",
			Subsystem: "backend",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	PushPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desk",
			Subsystem: "backend",
			Name:      "push_published_total",
			Help:      "Push envelopes published to NATS",
		},
		[]string{"type"},
	)
)

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
