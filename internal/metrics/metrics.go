// Package metrics exposes conversation activity as Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/sightings/internal/controller"
	"github.com/Veraticus/sightings/internal/session"
	"github.com/Veraticus/sightings/internal/transport"
)

const namespace = "sightings"

// Metrics owns a registry and every collector the service reports.
type Metrics struct {
	registry      *prometheus.Registry
	events        *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	matches       *prometheus.CounterVec
	candidates    prometheus.Histogram
	duplicates    prometheus.Counter
	finalizations *prometheus.CounterVec
	errors        *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	panics        prometheus.Counter
}

var (
	_ controller.Recorder = (*Metrics)(nil)
	_ transport.Recorder  = (*Metrics)(nil)
)

// New creates collectors on a fresh registry, including Go runtime metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by classification.",
		}, []string{"class"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Session state transitions.",
		}, []string{"from", "to"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Plate match calls by the tier that answered.",
		}, []string{"tier"}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_candidates",
			Help:      "Candidates returned per match call.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_messages_total",
			Help:      "Inbound messages answered from the dedup window.",
		}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalizations_total",
			Help:      "Finalize calls by result.",
		}, []string{"result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Recoverable event errors by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound messages that could not be queued.",
		}, []string{"reason"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_panics_total",
			Help:      "Panics recovered in queue workers.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.transitions,
		m.matches,
		m.candidates,
		m.duplicates,
		m.finalizations,
		m.errors,
		m.dropped,
		m.panics,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterSessionGauges reports live session counts per state from stats,
// which is usually session.Manager.Stats.
func (m *Metrics) RegisterSessionGauges(stats func() map[string]int) {
	if m == nil || stats == nil {
		return
	}
	for _, state := range session.States {
		key := string(state)
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "sessions",
			Help:        "Sessions currently held, by state.",
			ConstLabels: prometheus.Labels{"state": key},
		}, func() float64 { return float64(stats()[key]) }))
	}
}

// RegisterQueueGauges reports queue depth from stats, which is usually
// queue.Manager.Stats.
func (m *Metrics) RegisterQueueGauges(stats func() map[string]int) {
	if m == nil || stats == nil {
		return
	}
	for _, key := range []string{"identities", "queued", "processing", "waiting_workers"} {
		name := key
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      name,
			Help:      "Queue manager " + name + ".",
		}, func() float64 { return float64(stats()[name]) }))
	}
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "collapsed_total",
		Help:      "Redelivered events absorbed before reaching a worker.",
	}, func() float64 { return float64(stats()["collapsed"]) }))
}

// ObserveEvent implements controller.Recorder.
func (m *Metrics) ObserveEvent(class controller.Class) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(class)).Inc()
}

// ObserveTransition implements controller.Recorder.
func (m *Metrics) ObserveTransition(from, to session.State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveMatch implements controller.Recorder.
func (m *Metrics) ObserveMatch(tier string, candidates int) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(tier).Inc()
	m.candidates.Observe(float64(candidates))
}

// ObserveDuplicate implements controller.Recorder.
func (m *Metrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// ObserveFinalize implements controller.Recorder.
func (m *Metrics) ObserveFinalize(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.finalizations.WithLabelValues(result).Inc()
}

// ObserveError implements controller.Recorder.
func (m *Metrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// ObserveDropped implements transport.Recorder.
func (m *Metrics) ObserveDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// ObservePanic counts a recovered worker panic.
func (m *Metrics) ObservePanic(string) {
	if m == nil {
		return
	}
	m.panics.Inc()
}
