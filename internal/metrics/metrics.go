package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/betbot/p2pbuy/internal/domain"
)

const namespace = "p2pbuy"

// Metrics 交易流程与后端请求的计数器
// 使用独立 Registry，测试和多实例之间互不干扰
type Metrics struct {
	reg *prometheus.Registry

	TradesCreated   *prometheus.CounterVec
	CreateFailures  *prometheus.CounterVec
	Validations     *prometheus.CounterVec
	PollOutcomes    *prometheus.CounterVec
	BackendRequests *prometheus.CounterVec
}

// New 创建并注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		TradesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_created_total",
			Help:      "Trades created, by how the record was obtained (synced or synthesized).",
		}, []string{"sync"}),
		CreateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_create_failures_total",
			Help:      "Failed create-trade submissions by classified error kind.",
		}, []string{"kind"}),
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_validations_total",
			Help:      "Receipt validations by result and validation code.",
		}, []string{"result", "code"}),
		PollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_poll_outcomes_total",
			Help:      "Settlement polling terminal outcomes.",
		}, []string{"status", "code"}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend REST requests by endpoint and result.",
		}, []string{"endpoint", "result"}),
	}
	reg.MustRegister(
		m.TradesCreated,
		m.CreateFailures,
		m.Validations,
		m.PollOutcomes,
		m.BackendRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 供测试读取
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) TradeCreated(synthesized bool) {
	label := "synced"
	if synthesized {
		label = "synthesized"
	}
	m.TradesCreated.WithLabelValues(label).Inc()
}

func (m *Metrics) CreateFailed(kind string) {
	m.CreateFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ReceiptValidated(valid bool, code string) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.Validations.WithLabelValues(result, code).Inc()
}

func (m *Metrics) PollFinished(status domain.FlowStatus, code string) {
	m.PollOutcomes.WithLabelValues(string(status), code).Inc()
}

// ObserveRequest 与 api.RequestObserver 签名一致
func (m *Metrics) ObserveRequest(endpoint string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BackendRequests.WithLabelValues(endpoint, result).Inc()
}
