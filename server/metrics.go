package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "slidegen",
			Subsystem: "server",
			Name:      "tasks_active",
			Help:      "Generation tasks currently running",
		},
	)

	// Finished tasks, by status (done, failed)
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slidegen",
			Subsystem: "server",
			Name:      "tasks_total",
			Help:      "Total number of finished generation tasks",
		},
		[]string{"status"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slidegen",
			Subsystem: "server",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "code"},
	)
)
