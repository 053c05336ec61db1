package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Executor 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		OrderTransitionTotal, OrderCreatedTotal,
		QueueDepth, WorkerBusy, DispatchDuration,
		SweepTotal, ReconcileTotal,
		WebhookTotal, CreditTotal,
		SessionActive, SessionTotal,
	)
}

// OrderTransitionTotal 订单状态迁移次数（按目标状态）
var OrderTransitionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upvote_order_transition_total",
		Help: "订单状态迁移次数",
	},
	[]string{"to"},
)

// OrderCreatedTotal 新建订单数（来源 manual | auto）
var OrderCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upvote_order_created_total",
		Help: "新建订单数",
	},
	[]string{"source"},
)

// QueueDepth 任务队列当前长度
var QueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "upvote_queue_depth",
		Help: "任务队列当前长度",
	},
)

// WorkerBusy 每个 worker 是否正在处理订单
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "upvote_worker_busy",
		Help: "worker 正在处理的订单数",
	},
	[]string{"worker_id"},
)

// DispatchDuration 单次派发执行耗时（秒）
var DispatchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "upvote_dispatch_duration_seconds",
		Help:    "派发执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"status"}, // processing | completed | failed
)

// SweepTotal 后台扫描处理的记录数
var SweepTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upvote_sweep_total",
		Help: "后台扫描处理的记录数",
	},
	[]string{"sweep"}, // stuck_pending | processing_timeout | recovery | session_recovery | payment_timeout | history_gc
)

// ReconcileTotal 对账结果
var ReconcileTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upvote_reconcile_total",
		Help: "对账结果",
	},
	[]string{"outcome"}, // mirrored | interrupted | unchanged | skipped
)

// WebhookTotal 支付回调处理结果
var WebhookTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upvote_webhook_total",
		Help: "支付回调处理结果",
	},
	[]string{"outcome"}, // applied | duplicate | rejected | unknown_payment
)

// CreditTotal 余额变动次数
var CreditTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upvote_credit_total",
		Help: "余额变动次数",
	},
	[]string{"kind"}, // credit | refund | debit
)

// SessionActive 执行服务中 pending/running 的会话数
var SessionActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "upvote_session_active",
		Help: "执行中的会话数",
	},
)

// SessionTotal 执行会话结束数（按终态）
var SessionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upvote_session_total",
		Help: "执行会话结束数",
	},
	[]string{"status"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
