package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "accessmap"

var (
	PinsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pins_created_total",
		Help:      "Number of pins created through this instance.",
	})

	PinsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pins_deleted_total",
		Help:      "Number of pins deleted through this instance.",
	})

	WriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pin_write_errors_total",
		Help:      "Rejected pin writes by operation.",
	}, []string{"op"})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pin_subscriptions_active",
		Help:      "Number of open snapshot subscriptions.",
	})

	SnapshotsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pin_snapshots_delivered_total",
		Help:      "Number of snapshots handed to subscribers.",
	})
)

//Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
