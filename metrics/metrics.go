// Package metrics exposes tracker counters in the Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"gobridgetracker/attestation"
	"gobridgetracker/limiter"
	"gobridgetracker/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bridge_tracker"

type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	refreshErrors prometheus.Counter
	notifications prometheus.Counter
}

// New registers the collectors on a private registry. lim may be nil.
func New(lim *limiter.RequestLimiter) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transfer status transitions by target status.",
		}, []string{"status"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestation_lookups_total",
			Help:      "Attestation lookups by result kind.",
		}, []string{"kind"}),
		refreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_errors_total",
			Help:      "Refreshes that left the record unchanged because of an error.",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications stored.",
		}),
	}
	m.registry.MustRegister(m.transitions, m.lookups, m.refreshErrors, m.notifications)

	if lim != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "limiter_active",
				Help:      "Outbound requests currently running.",
			}, func() float64 { return float64(lim.Active()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "limiter_waiting",
				Help:      "Outbound requests waiting for a slot.",
			}, func() float64 { return float64(lim.Waiting()) }),
		)
	}
	return m
}

// All methods accept a nil receiver so callers can run without metrics.

func (m *Metrics) Transition(status types.TransferStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) AttestationLookup(kind attestation.Kind) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) RefreshError() {
	if m == nil {
		return
	}
	m.refreshErrors.Inc()
}

func (m *Metrics) NotificationStored() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

type AttestationSource interface {
	GetAttestation(ctx context.Context, messageHash string) attestation.Result
}

type countingSource struct {
	source  AttestationSource
	metrics *Metrics
}

func (c countingSource) GetAttestation(ctx context.Context, messageHash string) attestation.Result {
	res := c.source.GetAttestation(ctx, messageHash)
	c.metrics.AttestationLookup(res.Kind)
	return res
}

// CountAttestations wraps source so every lookup is counted by result kind.
func (m *Metrics) CountAttestations(source AttestationSource) AttestationSource {
	if m == nil {
		return source
	}
	return countingSource{source: source, metrics: m}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
