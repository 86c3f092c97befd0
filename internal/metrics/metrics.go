// Package metrics exposes Prometheus collectors for the action lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the lifecycle counters. Labels carry the outcome enum
// values so dashboards can split auto approvals from human ones and
// verified executions from failed ones.
type Metrics struct {
	registry *prometheus.Registry

	ActionsDeclared prometheus.Counter
	RiskAssessed    *prometheus.CounterVec
	Approvals       *prometheus.CounterVec
	Executions      *prometheus.CounterVec
	Verifications   *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ActionsDeclared: factory.NewCounter(prometheus.CounterOpts{
			Name: "atp_actions_declared_total",
			Help: "Actions declared to the gateway.",
		}),
		RiskAssessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atp_risk_assessments_total",
			Help: "Risk assessments by resulting risk level.",
		}, []string{"level"}),
		Approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atp_approvals_total",
			Help: "Approval decisions by decision and approver kind.",
		}, []string{"decision", "kind"}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atp_executions_total",
			Help: "Dispatched executions by outcome status.",
		}, []string{"status"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atp_verifications_total",
			Help: "Verification runs by overall status.",
		}, []string{"status"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
