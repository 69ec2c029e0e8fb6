// Package metrics exposes Prometheus counters for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksStarted counts tasks handed to the executor.
	TasksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepilot_tasks_started_total",
		Help: "Tasks handed to the executor.",
	})

	// TasksFinished counts tasks reaching a terminal status.
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicepilot_tasks_finished_total",
		Help: "Tasks reaching a terminal status.",
	}, []string{"status"})

	// Steps counts executed plan steps by result status.
	Steps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicepilot_steps_total",
		Help: "Executed plan steps by result status.",
	}, []string{"status"})

	// ApprovalsRequested counts approval gates reached by the executor.
	ApprovalsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepilot_approvals_requested_total",
		Help: "Approval gates reached by the executor.",
	})

	// ApprovalsResolved counts approvals granted through the API.
	ApprovalsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicepilot_approvals_resolved_total",
		Help: "Approvals granted through the API.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
