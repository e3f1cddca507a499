// Package metrics exports engine and agent measurements to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

const namespace = "codemaestro"

// Status label values
const (
	statusSuccess  = "success"
	statusRejected = "rejected"
	statusPaused   = "paused"
	statusError    = "error"
)

// Prometheus implements port.Metrics on its own registry
type Prometheus struct {
	registry *prometheus.Registry

	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	agentRunsTotal     *prometheus.CounterVec
	agentDuration      *prometheus.HistogramVec
	agentActionsTotal  *prometheus.CounterVec
	enginePaused       prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them together with
// the Go runtime and process collectors
func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_transitions_total",
				Help:      "Total number of workflow transition attempts",
			},
			[]string{"workflow", "status"}, // status: success, rejected, paused, error
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_transition_duration_seconds",
				Help:      "Duration of workflow transitions including actions",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"workflow"},
		),
		agentRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_executions_total",
				Help:      "Total number of agent executions",
			},
			[]string{"agent", "status"},
		),
		agentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_execution_duration_seconds",
				Help:      "Duration of agent executions including LLM calls",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		agentActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_actions_total",
				Help:      "Total number of actions produced by agents",
			},
			[]string{"agent"},
		),
		enginePaused: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_paused",
				Help:      "1 while workflow execution is paused",
			},
		),
	}

	m.registry.MustRegister(
		m.transitionsTotal,
		m.transitionDuration,
		m.agentRunsTotal,
		m.agentDuration,
		m.agentActionsTotal,
		m.enginePaused,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTransition records one transition attempt
func (m *Prometheus) ObserveTransition(workflowName, from, to string, err error, elapsed time.Duration) {
	m.transitionsTotal.WithLabelValues(workflowName, transitionStatus(err)).Inc()
	m.transitionDuration.WithLabelValues(workflowName).Observe(elapsed.Seconds())
}

// ObserveAgentExecution records one agent run
func (m *Prometheus) ObserveAgentExecution(agent string, actions int, err error, elapsed time.Duration) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	m.agentRunsTotal.WithLabelValues(agent, status).Inc()
	m.agentDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
	if actions > 0 {
		m.agentActionsTotal.WithLabelValues(agent).Add(float64(actions))
	}
}

// SetPaused flips the paused gauge
func (m *Prometheus) SetPaused(paused bool) {
	if paused {
		m.enginePaused.Set(1)
		return
	}
	m.enginePaused.Set(0)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

func transitionStatus(err error) string {
	switch {
	case err == nil:
		return statusSuccess
	case errors.Is(err, workflow.ErrPaused):
		return statusPaused
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrGuardFailed), errors.Is(err, workflow.ErrUnknownStrategy):
		return statusRejected
	default:
		return statusError
	}
}

// Verify interface compliance
var _ port.Metrics = (*Prometheus)(nil)
