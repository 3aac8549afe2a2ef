// Package metrics 提供风险服务的 Prometheus 指标，注册在独立的 Registry 上
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "risk"

// Metrics 指标集合，nil 接收者上的记录方法均为空操作
type Metrics struct {
	registry *prometheus.Registry

	// 评估次数，按结果
	EvaluationsTotal *prometheus.CounterVec
	// 单次评估耗时
	EvaluationDuration prometheus.Histogram
	// 新建告警数，按等级与类型
	AlertsOpened *prometheus.CounterVec
	// 关闭告警数，按原因
	AlertsResolved *prometheus.CounterVec
	// 告警事件发布失败数
	PublishFailures prometheus.Counter
	// 熔断降级跳过的事件数
	FailOpenSkips prometheus.Counter
	// 熔断器状态：0 closed, 1 half-open, 2 open
	CircuitState *prometheus.GaugeVec
	// 消费者丢弃的无效消息数
	InvalidMessages prometheus.Counter

	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec
	// gRPC 请求计数
	GRPCRequestsTotal *prometheus.CounterVec
}

// New 创建并注册指标
func New(serviceName string) *Metrics {
	constLabels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evaluations_total", ConstLabels: constLabels,
			Help: "Position evaluations by outcome",
		}, []string{"outcome"}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "evaluation_duration_seconds", ConstLabels: constLabels,
			Help:    "Duration of one evaluation pass",
			Buckets: prometheus.DefBuckets,
		}),
		AlertsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_opened_total", ConstLabels: constLabels,
			Help: "Alerts opened by severity and type",
		}, []string{"severity", "type"}),
		AlertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_resolved_total", ConstLabels: constLabels,
			Help: "Alerts closed by reason",
		}, []string{"reason"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "alert_publish_failures_total", ConstLabels: constLabels,
			Help: "Alert events that failed to publish",
		}),
		FailOpenSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fail_open_skips_total", ConstLabels: constLabels,
			Help: "Position events skipped while the circuit breaker was open",
		}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_state", ConstLabels: constLabels,
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		InvalidMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "invalid_messages_total", ConstLabels: constLabels,
			Help: "Inbound messages rejected by validation",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", ConstLabels: constLabels,
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", ConstLabels: constLabels,
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "grpc_requests_total", ConstLabels: constLabels,
			Help: "Total gRPC requests",
		}, []string{"method", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.AlertsOpened,
		m.AlertsResolved,
		m.PublishFailures,
		m.FailOpenSkips,
		m.CircuitState,
		m.InvalidMessages,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
	)
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordEvaluation 记录一次评估
func (m *Metrics) RecordEvaluation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(outcome).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
}

// RecordAlertOpened 记录新建告警
func (m *Metrics) RecordAlertOpened(severity, alertType string) {
	if m == nil {
		return
	}
	m.AlertsOpened.WithLabelValues(severity, alertType).Inc()
}

// RecordAlertResolved 记录关闭告警
func (m *Metrics) RecordAlertResolved(reason string) {
	if m == nil {
		return
	}
	m.AlertsResolved.WithLabelValues(reason).Inc()
}

// RecordPublishFailure 记录发布失败
func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

// RecordFailOpen 记录降级跳过
func (m *Metrics) RecordFailOpen() {
	if m == nil {
		return
	}
	m.FailOpenSkips.Inc()
}

// SetCircuitState 更新熔断器状态
func (m *Metrics) SetCircuitState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(name).Set(float64(state))
}

// RecordInvalidMessage 记录无效消息
func (m *Metrics) RecordInvalidMessage() {
	if m == nil {
		return
	}
	m.InvalidMessages.Inc()
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordGRPCRequest 记录 gRPC 请求
func (m *Metrics) RecordGRPCRequest(method, code string) {
	if m == nil {
		return
	}
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}
