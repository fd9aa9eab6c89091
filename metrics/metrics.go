// Package metrics exposes the factory's Prometheus collectors on the default
// registry. Wiring is optional; components accept these as plain callbacks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	provisionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tenora",
		Subsystem: "provision",
		Name:      "outcomes_total",
		Help:      "Tenant provisioning runs by outcome.",
	}, []string{"outcome"})

	migrationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tenora",
		Subsystem: "migrate",
		Name:      "duration_seconds",
		Help:      "Duration of migration runs per database.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"database"})

	openTenantHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tenora",
		Subsystem: "manager",
		Name:      "open_tenant_handles",
		Help:      "Number of cached tenant connection handles.",
	})
)

// ObserveProvision counts one provisioning run; outcome is the
// provision.Outcome string form.
func ObserveProvision(outcome string) {
	provisionOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveMigration records one migration run against a database.
func ObserveMigration(database string, d time.Duration) {
	migrationDuration.WithLabelValues(database).Observe(d.Seconds())
}

// SetOpenTenantHandles tracks the manager's cache size.
func SetOpenTenantHandles(n int) {
	openTenantHandles.Set(float64(n))
}
