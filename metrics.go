package authcore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries the engine's Prometheus collectors. A nil *Metrics is a
// no-op so instrumentation never branches in flow code.
type Metrics struct {
	logins            *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
	reuseDetected     prometheus.Counter
	challengesIssued  *prometheus.CounterVec
	challengeVerifies *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
	lockouts          prometheus.Counter
}

// NewMetrics builds and registers the engine collectors. registerer may be
// nil, in which case the default registry is used.
func NewMetrics(cfg MetricsConfig, registerer prometheus.Registerer) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "authcore"
	}

	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "token_refreshes_total",
			Help:      "Refresh-token rotations by result.",
		}, []string{"result"}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "token_reuse_detected_total",
			Help:      "Refresh tokens replayed after rotation.",
		}),
		challengesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "mfa_challenges_issued_total",
			Help:      "MFA challenges issued by method type.",
		}, []string{"type"}),
		challengeVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "mfa_verifications_total",
			Help:      "MFA verification attempts by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the sliding-window limiter.",
		}, []string{"action"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "account_lockouts_total",
			Help:      "Principals locked after repeated login failures.",
		}),
	}

	registerer.MustRegister(
		m.logins, m.refreshes, m.reuseDetected,
		m.challengesIssued, m.challengeVerifies,
		m.rateLimited, m.lockouts,
	)

	return m
}

// registerAuditDropped exposes dispatcher loss counters once the dispatcher
// exists; called by the builder.
func (m *Metrics) registerAuditDropped(registerer prometheus.Registerer, namespace string, dropped func() uint64) {
	if m == nil {
		return
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "authcore"
	}
	registerer.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_dropped_total",
		Help:      "Audit events dropped due to a full dispatch buffer.",
	}, func() float64 { return float64(dropped()) }))
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) reuse() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

func (m *Metrics) challengeIssued(methodType string) {
	if m == nil {
		return
	}
	m.challengesIssued.WithLabelValues(methodType).Inc()
}

func (m *Metrics) challengeVerified(result string) {
	if m == nil {
		return
	}
	m.challengeVerifies.WithLabelValues(result).Inc()
}

func (m *Metrics) limited(action string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(action).Inc()
}

func (m *Metrics) lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}
