// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AlertsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardpost_alerts_created_total",
		Help: "Alerts created from anomaly events.",
	})
	AlertsEscalated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardpost_alerts_escalated_total",
		Help: "Escalations, manual and deadline driven.",
	})
	AssignmentConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardpost_assignment_conflicts_total",
		Help: "Optimistic concurrency conflicts on alert updates.",
	})
	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardpost_notifications_delivered_total",
		Help: "Notifications delivered, by channel.",
	}, []string{"channel"})
	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardpost_notifications_failed_total",
		Help: "Delivery attempts that failed, by channel.",
	}, []string{"channel"})
	NotificationsDead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardpost_notifications_dead_total",
		Help: "Notifications that exhausted their retry budget.",
	})
	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardpost_notification_delivery_seconds",
		Help:    "Duration of delivery attempts, by channel.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
