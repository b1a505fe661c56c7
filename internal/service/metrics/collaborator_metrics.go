package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	CollaboratorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vpscalp",
			Subsystem: "collaborator",
			Name:      "latency_seconds",
			Help:      "Latency of external collaborator calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collaborator", "op"},
	)

	CollaboratorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpscalp",
			Subsystem: "collaborator",
			Name:      "errors_total",
			Help:      "Failed collaborator calls",
		},
		[]string{"collaborator", "op"},
	)
)

// Register adds the collaborator collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(CollaboratorLatency, CollaboratorErrors)
	})
}

// Observe records one call.
func Observe(collaborator, op string, start time.Time, err error) {
	CollaboratorLatency.WithLabelValues(collaborator, op).Observe(time.Since(start).Seconds())
	if err != nil {
		CollaboratorErrors.WithLabelValues(collaborator, op).Inc()
	}
}
