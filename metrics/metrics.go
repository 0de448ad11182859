package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cluster"

// Metrics holds the collectors of one cluster context. Nothing is registered
// globally; callers hand in the registerer they expose.
type Metrics struct {
	BarrierRounds    prometheus.Counter
	BarrierSlips     *prometheus.CounterVec
	BarrierEvictions prometheus.Counter
	BarrierClients   prometheus.Gauge
	BarrierDuration  prometheus.Histogram
	ConnectAttempts  *prometheus.CounterVec

	ReplicationSends    *prometheus.CounterVec
	ReplicationFailures *prometheus.CounterVec
	ReplicationBytes    *prometheus.CounterVec

	ArbiterQueueWait prometheus.Histogram
	ArbiterRejected  prometheus.Counter
	ArbiterPanics    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarrierRounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "barrier",
				Name:      "rounds_total",
				Help:      "Number of swap lock barrier rounds run.",
			},
		),
		BarrierSlips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "barrier",
				Name:      "slips_total",
				Help:      "Number of tolerated barrier timeouts.",
			},
			[]string{"role"},
		),
		BarrierEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "barrier",
				Name:      "evictions_total",
				Help:      "Number of barrier clients removed after errors or repeated slips.",
			},
		),
		BarrierClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "barrier",
				Name:      "clients",
				Help:      "Number of slaves currently synchronizing against this master.",
			},
		),
		BarrierDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "barrier",
				Name:      "duration_seconds",
				Help:      "Time spent inside one barrier round.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
		),
		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "barrier",
				Name:      "connect_attempts_total",
				Help:      "Slave connection attempts to the sync server by result.",
			},
			[]string{"result"},
		),
		ReplicationSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "sends_total",
				Help:      "Data packets delivered to subscribers.",
			},
			[]string{"object"},
		),
		ReplicationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "send_failures_total",
				Help:      "Data packets that failed to reach a subscriber.",
			},
			[]string{"object"},
		),
		ReplicationBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "bytes_total",
				Help:      "Bytes of serialized application data sent.",
			},
			[]string{"object"},
		),
		ArbiterQueueWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "arbiter",
				Name:      "queue_wait_seconds",
				Help:      "Time a network task waited before running.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),
		ArbiterRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "arbiter",
				Name:      "rejected_total",
				Help:      "Network tasks dropped because the queue was full.",
			},
		),
		ArbiterPanics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "arbiter",
				Name:      "panics_total",
				Help:      "Network tasks that panicked.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.BarrierRounds,
			m.BarrierSlips,
			m.BarrierEvictions,
			m.BarrierClients,
			m.BarrierDuration,
			m.ConnectAttempts,
			m.ReplicationSends,
			m.ReplicationFailures,
			m.ReplicationBytes,
			m.ArbiterQueueWait,
			m.ArbiterRejected,
			m.ArbiterPanics,
		)
	}

	return m
}
