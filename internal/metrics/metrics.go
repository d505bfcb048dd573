package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	ProvisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmprov_provision_total",
			Help: "Total number of provisioning runs by result",
		},
		[]string{"result", "path"},
	)

	ProvisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vmprov_provision_duration_seconds",
			Help:    "Duration of provisioning runs",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	TaskWaitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmprov_task_wait_total",
			Help: "Hypervisor task waits by outcome",
		},
		[]string{"outcome"},
	)

	APIRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vmprov_api_retries_total",
			Help: "Hypervisor API calls retried after a transient network error",
		},
	)

	GuestDiscoveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmprov_guest_discovery_total",
			Help: "Guest info discoveries by the source that produced the address",
		},
		[]string{"source"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmprov_queue_depth",
			Help: "Provisioning jobs waiting for a worker",
		},
	)
)

// Task wait outcomes.
const (
	TaskOK      = "ok"
	TaskFailed  = "failed"
	TaskTimeout = "timeout"
)
