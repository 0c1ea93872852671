// Package metrics exposes the ledger's Prometheus instruments.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vulnledger"

// Metrics holds the collectors on a private registry. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Transitions       *prometheus.CounterVec
	ReconcileDuration *prometheus.HistogramVec
	Rejections        *prometheus.CounterVec
	Scans             *prometheus.CounterVec
}

// New creates and registers every collector
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Ledger transitions by origin, action and outcome",
		}, []string{"origin", "action", "status"}),
		ReconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent reconciling and applying one scan",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Transitions refused by the guards or storage, by error code",
		}, []string{"code"}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Processed scans by result",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Transitions, m.ReconcileDuration, m.Rejections, m.Scans)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan records a processed scan and its applied plan
func (m *Metrics) ObserveScan(plan reconcile.Plan, result reconcile.Result, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case plan.NoResults:
		outcome = "no_results"
	}
	m.Scans.WithLabelValues(outcome).Inc()
	m.ReconcileDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	for _, o := range result.Outcomes {
		m.Transitions.WithLabelValues("scan", string(o.Transition.Action), string(o.Status)).Inc()
	}
}

// ObserveTransition records one API transition
func (m *Metrics) ObserveTransition(kind model.TransitionKind, err error) {
	if m == nil {
		return
	}
	status := string(reconcile.StatusApplied)
	if err != nil {
		status = string(reconcile.StatusFailed)
		m.ObserveRejection(err)
	}
	m.Transitions.WithLabelValues("api", string(kind), status).Inc()
}

// ObserveRejection counts err by its code; foreign errors count as unknown
func (m *Metrics) ObserveRejection(err error) {
	if m == nil || err == nil {
		return
	}
	code := "unknown"
	var e *model.Error
	if errors.As(err, &e) {
		code = string(e.Code)
	}
	m.Rejections.WithLabelValues(code).Inc()
}
