package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contractkit"

// Metrics 引擎指标，所有方法在nil接收者上为空操作
type Metrics struct {
	registry *prometheus.Registry

	rpcRequests *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	receiptPolls    prometheus.Counter
	receiptOutcomes *prometheus.CounterVec

	filterPolls *prometheus.CounterVec
	filterLogs  prometheus.Counter

	sinkWrites *prometheus.CounterVec
}

// New 创建指标集合，注册在独立的registry上
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPC requests by method, node and status.",
		}, []string{"method", "node", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "RPC request latency by method.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		receiptPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_poll_attempts_total",
			Help:      "eth_getTransactionReceipt poll attempts.",
		}),
		receiptOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_wait_outcomes_total",
			Help:      "Receipt waits by final outcome.",
		}, []string{"outcome"}),
		filterPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_polls_total",
			Help:      "eth_getLogs polls issued by event subscriptions.",
		}, []string{"status"}),
		filterLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_logs_delivered_total",
			Help:      "Logs delivered to subscription handlers, duplicates included.",
		}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Records written to output sinks.",
		}, []string{"sink", "kind", "status"}),
	}

	reg.MustRegister(
		m.rpcRequests,
		m.rpcDuration,
		m.receiptPolls,
		m.receiptOutcomes,
		m.filterPolls,
		m.filterLogs,
		m.sinkWrites,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry 返回底层registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 以Prometheus文本格式输出指标
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRPC 记录一次RPC请求
func (m *Metrics) RecordRPC(method, node string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.rpcRequests.WithLabelValues(method, node, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordReceiptPoll 记录一次回执查询
func (m *Metrics) RecordReceiptPoll() {
	if m == nil {
		return
	}
	m.receiptPolls.Inc()
}

// RecordReceiptOutcome 记录回执等待结果：confirmed、timed_out、error、cancelled
func (m *Metrics) RecordReceiptOutcome(outcome string) {
	if m == nil {
		return
	}
	m.receiptOutcomes.WithLabelValues(outcome).Inc()
}

// RecordFilterPoll 记录一次日志轮询及返回条数
func (m *Metrics) RecordFilterPoll(logs int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.filterPolls.WithLabelValues("error").Inc()
		return
	}
	m.filterPolls.WithLabelValues("ok").Inc()
	m.filterLogs.Add(float64(logs))
}

// RecordSinkWrite 记录输出写入
func (m *Metrics) RecordSinkWrite(sink, kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sinkWrites.WithLabelValues(sink, kind, status).Inc()
}
