package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fieldhand"

// PipelineMetrics exposes counters/histograms for the message pipeline.
// It satisfies dispatch.Observer and intent.LatencyObserver.
type PipelineMetrics struct {
	messagesTotal     *prometheus.CounterVec
	stageTotal        *prometheus.CounterVec
	classifierLatency *prometheus.HistogramVec
	inboundTotal      *prometheus.CounterVec
	outboundTotal     *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Inbound messages processed by final status",
		}, []string{"status"}),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Pipeline stages entered",
		}, []string{"stage"}),
		classifierLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "latency_seconds",
			Help:      "Latency of intent classification calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21},
		}, []string{"outcome"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Inbound webhook messages by channel and result",
		}, []string{"channel", "result"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messenger",
			Name:      "outbound_total",
			Help:      "Outbound sends by kind and status",
		}, []string{"kind", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.stageTotal, m.classifierLatency, m.inboundTotal, m.outboundTotal)
	return m
}

func (m *PipelineMetrics) ObserveMessage(status string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveStage(stage string) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage).Inc()
}

func (m *PipelineMetrics) ObserveClassifier(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.classifierLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *PipelineMetrics) ObserveInbound(channel, result string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, result).Inc()
}

func (m *PipelineMetrics) ObserveOutbound(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}
