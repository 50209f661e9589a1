// Package metrics holds the Prometheus collectors shared by the interception
// pipelines. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "callguard"

// Metrics holds all callguard Prometheus collectors.
type Metrics struct {
	CallOutcomes       *prometheus.CounterVec
	MessageVerdicts    *prometheus.CounterVec
	ScreeningDecisions *prometheus.CounterVec
	MitigationAttempts *prometheus.CounterVec
	HandlerErrors      *prometheus.CounterVec

	BlocklistEntries    prometheus.Gauge
	BlocklistLookups    *prometheus.CounterVec
	ChangesDropped      prometheus.Counter
	InterceptionRunning prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to keep registrations isolated.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CallOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "classified_total",
			Help:      "Call events classified, by outcome and direction",
		}, []string{"outcome", "direction"}),
		MessageVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "intercepted_total",
			Help:      "Inbound message fragments intercepted, by verdict",
		}, []string{"verdict"}),
		ScreeningDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "screening",
			Name:      "decisions_total",
			Help:      "Call screening decisions, by decision",
		}, []string{"decision"}),
		MitigationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mitigation",
			Name:      "attempts_total",
			Help:      "Call termination attempts, by strategy and result",
		}, []string{"strategy", "result"}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "handler_errors_total",
			Help:      "Errors caught at event handler boundaries, by source",
		}, []string{"source"}),
		BlocklistEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blocklist",
			Name:      "entries",
			Help:      "Number of blocked identifiers",
		}),
		BlocklistLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blocklist",
			Name:      "lookups_total",
			Help:      "Blocklist lookups, by the stage that answered",
		}, []string{"stage"}),
		ChangesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blocklist",
			Name:      "change_notifications_dropped_total",
			Help:      "Change notifications dropped because a watcher was not keeping up",
		}),
		InterceptionRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "running",
			Help:      "1 while interception listeners are registered",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.CallOutcomes,
		m.MessageVerdicts,
		m.ScreeningDecisions,
		m.MitigationAttempts,
		m.HandlerErrors,
		m.BlocklistEntries,
		m.BlocklistLookups,
		m.ChangesDropped,
		m.InterceptionRunning,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) CallOutcome(outcome, direction string) {
	if m == nil {
		return
	}
	m.CallOutcomes.WithLabelValues(outcome, direction).Inc()
}

func (m *Metrics) MessageVerdict(delivered bool) {
	if m == nil {
		return
	}
	v := "suppressed"
	if delivered {
		v = "delivered"
	}
	m.MessageVerdicts.WithLabelValues(v).Inc()
}

func (m *Metrics) ScreeningDecision(blocked bool) {
	if m == nil {
		return
	}
	d := "allow"
	if blocked {
		d = "reject"
	}
	m.ScreeningDecisions.WithLabelValues(d).Inc()
}

func (m *Metrics) MitigationAttempt(strategy string, ok bool) {
	if m == nil {
		return
	}
	r := "failed"
	if ok {
		r = "confirmed"
	}
	m.MitigationAttempts.WithLabelValues(strategy, r).Inc()
}

func (m *Metrics) HandlerError(source string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) SetBlocklistEntries(n int) {
	if m == nil {
		return
	}
	m.BlocklistEntries.Set(float64(n))
}

// Lookup records which stage of the read path answered: bloom, cache or store.
func (m *Metrics) Lookup(stage string) {
	if m == nil {
		return
	}
	m.BlocklistLookups.WithLabelValues(stage).Inc()
}

func (m *Metrics) ChangeDropped() {
	if m == nil {
		return
	}
	m.ChangesDropped.Inc()
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.InterceptionRunning.Set(1)
		return
	}
	m.InterceptionRunning.Set(0)
}
