package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for task and supervision activity.
type Metrics struct {
	tasksActive        prometheus.Gauge
	roleDuration       *prometheus.HistogramVec
	retries            *prometheus.CounterVec
	circuitTransitions *prometheus.CounterVec
	escalations        prometheus.Counter
}

// MustNewMetrics constructs the collectors against the given registerer.
// Registration conflicts reuse the existing collector; any other error
// panics, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tasksActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "maestro",
		Subsystem: "dispatch",
		Name:      "tasks_active",
		Help:      "Number of tasks currently owned by a live coordinator.",
	})
	roleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "maestro",
			Subsystem: "dispatch",
			Name:      "role_duration_seconds",
			Help:      "Duration of role executions.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maestro",
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Retries issued by the supervisor.",
		},
		[]string{"role"},
	)
	circuitTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maestro",
			Subsystem: "dispatch",
			Name:      "circuit_transitions_total",
			Help:      "Adapter circuit breaker transitions.",
		},
		[]string{"adapter", "to"},
	)
	escalations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "maestro",
		Subsystem: "dispatch",
		Name:      "escalations_total",
		Help:      "Tasks escalated to a blocked state.",
	})

	collectors := []prometheus.Collector{tasksActive, roleDuration, retries, circuitTransitions, escalations}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					roleDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					switch target {
					case retries:
						retries = already.ExistingCollector.(*prometheus.CounterVec)
					case circuitTransitions:
						circuitTransitions = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					tasksActive = already.ExistingCollector.(prometheus.Gauge)
				case prometheus.Counter:
					escalations = already.ExistingCollector.(prometheus.Counter)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		tasksActive:        tasksActive,
		roleDuration:       roleDuration,
		retries:            retries,
		circuitTransitions: circuitTransitions,
		escalations:        escalations,
	}
}

// IncActiveTasks marks a coordinator as live.
func (m *Metrics) IncActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Inc()
}

// DecActiveTasks marks a coordinator as finished.
func (m *Metrics) DecActiveTasks() {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Dec()
}

// ObserveRoleDuration records one role execution.
func (m *Metrics) ObserveRoleDuration(role string, d time.Duration) {
	if m == nil || m.roleDuration == nil {
		return
	}
	m.roleDuration.WithLabelValues(role).Observe(d.Seconds())
}

// IncRetry counts a supervisor-issued retry.
func (m *Metrics) IncRetry(role string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(role).Inc()
}

// IncCircuitTransition counts one breaker transition.
func (m *Metrics) IncCircuitTransition(adapter, to string) {
	if m == nil || m.circuitTransitions == nil {
		return
	}
	m.circuitTransitions.WithLabelValues(adapter, to).Inc()
}

// IncEscalation counts a blocked task.
func (m *Metrics) IncEscalation() {
	if m == nil || m.escalations == nil {
		return
	}
	m.escalations.Inc()
}
