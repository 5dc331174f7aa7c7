// Package metrics exports Prometheus counters fed by planner, materializer
// and server events.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
)

const namespace = "fetchgraph"

// Metrics holds the exported collectors.
type Metrics struct {
	plans            *prometheus.CounterVec
	planPaths        prometheus.Counter
	planDuration     prometheus.Histogram
	materializations *prometheus.CounterVec
	entitiesVisited  prometheus.Counter
	referencesNulled prometheus.Counter
	httpRequests     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		plans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "The total number of planning requests by result.",
		}, []string{"result"}),
		planPaths: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_paths_total",
			Help:      "The total number of fetch paths emitted by successful plans.",
		}),
		planDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_duration_seconds",
			Help:      "Time spent compiling fetch plans.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14),
		}),
		materializations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materializations_total",
			Help:      "The total number of materialization calls by result.",
		}, []string{"result"}),
		entitiesVisited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materialized_entities_total",
			Help:      "The total number of distinct entities visited by the materializer.",
		}),
		referencesNulled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_lazy_references_total",
			Help:      "The total number of unloaded references cleared by the materializer.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "The total number of HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Subscribe attaches the collectors to the global event bus.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.PlanFinish) {
			m.planDuration.Observe(e.Duration.Seconds())
			if e.Err != nil {
				m.plans.WithLabelValues("error").Inc()
				return
			}
			m.plans.WithLabelValues("ok").Inc()
			m.planPaths.Add(float64(e.PathCount()))
		}),
		eventbus.Subscribe(func(_ context.Context, e events.MaterializeFinish) {
			if e.Err != nil {
				m.materializations.WithLabelValues("error").Inc()
				return
			}
			m.materializations.WithLabelValues("ok").Inc()
			m.entitiesVisited.Add(float64(e.Visited))
			m.referencesNulled.Add(float64(e.Nulled))
		}),
		eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) {
			m.httpRequests.WithLabelValues(e.Route, strconv.Itoa(e.Status)).Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
