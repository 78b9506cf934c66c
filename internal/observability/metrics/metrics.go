package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters for the scheduling write pipeline.
// All observe methods are nil-safe so wiring stays optional in tests.
type SchedulingMetrics struct {
	proposedTotal      *prometheus.CounterVec
	confirmTotal       *prometheus.CounterVec
	rejectedTotal      prometheus.Counter
	expiredTotal       prometheus.Counter
	conflictsTotal     prometheus.Counter
	notificationsTotal *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		proposedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "ledger",
			Name:      "proposed_total",
			Help:      "Pending actions staged, by action type",
		}, []string{"action_type"}),
		confirmTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "ledger",
			Name:      "confirm_total",
			Help:      "Confirm attempts by outcome (ok, conflict, error)",
		}, []string{"outcome"}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "ledger",
			Name:      "rejected_total",
			Help:      "Pending actions rejected by their proposer",
		}),
		expiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "ledger",
			Name:      "expired_total",
			Help:      "Pending actions lazily transitioned to expired",
		}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "pipeline",
			Name:      "conflicts_total",
			Help:      "Conflicts detected at propose time",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Subsystem: "notify",
			Name:      "published_total",
			Help:      "Booking events handed to the notifier",
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.proposedTotal, m.confirmTotal, m.rejectedTotal,
		m.expiredTotal, m.conflictsTotal, m.notificationsTotal,
	)
	return m
}

func (m *SchedulingMetrics) ObservePropose(actionType string) {
	if m == nil {
		return
	}
	m.proposedTotal.WithLabelValues(actionType).Inc()
}

func (m *SchedulingMetrics) ObserveConfirm(outcome string) {
	if m == nil {
		return
	}
	m.confirmTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveReject() {
	if m == nil {
		return
	}
	m.rejectedTotal.Inc()
}

func (m *SchedulingMetrics) ObserveExpiry() {
	if m == nil {
		return
	}
	m.expiredTotal.Inc()
}

func (m *SchedulingMetrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}

func (m *SchedulingMetrics) ObserveNotification(eventType string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(eventType).Inc()
}
