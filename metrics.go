package tftp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the injected collaborator engines report to. It is
// optional (a nil *Metrics is valid and every method is a no-op),
// matching spec §9's preference for injected collaborators over
// module-level state.
type Metrics struct {
	transfersTotal   *prometheus.CounterVec
	bytesTotal       *prometheus.CounterVec
	activeTransfers  prometheus.Gauge
	retransmitsTotal prometheus.Counter
}

// NewMetrics creates a Metrics collaborator and registers it with reg.
// Pass prometheus.DefaultRegisterer to expose it on the default
// /metrics handler, or a fresh *prometheus.Registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tftp_transfers_total",
			Help: "Completed transfers by method and outcome.",
		}, []string{"method", "outcome"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tftp_transfer_bytes_total",
			Help: "Bytes moved by direction.",
		}, []string{"direction"}),
		activeTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tftp_active_transfers",
			Help: "Transfers currently in flight.",
		}),
		retransmitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tftp_retransmits_total",
			Help: "DATA or ACK packets re-sent by the retransmit timer.",
		}),
	}
	reg.MustRegister(m.transfersTotal, m.bytesTotal, m.activeTransfers, m.retransmitsTotal)
	return m
}

func (m *Metrics) transferStarted() {
	if m == nil {
		return
	}
	m.activeTransfers.Inc()
}

func (m *Metrics) transferFinished(method, outcome string) {
	if m == nil {
		return
	}
	m.activeTransfers.Dec()
	m.transfersTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) bytesMoved(direction string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.bytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) retransmitted() {
	if m == nil {
		return
	}
	m.retransmitsTotal.Inc()
}
