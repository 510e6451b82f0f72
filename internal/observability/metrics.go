package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campus_rides"

var (
	RequestsCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_requests_created_total", Help: "Ride requests created"})
	RequestsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_requests_cancelled_total", Help: "Ride requests cancelled by riders"})
	RidesCompleted    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_completed_total", Help: "Rides marked complete"})

	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_total", Help: "Offer ledger writes by outcome"},
		[]string{"outcome"},
	)
	AcceptancesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "acceptances_total", Help: "Offers accepted by riders"})
	AcceptLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "accept_latency_seconds", Help: "Acceptance cascade latency seconds"})
	RatingsTotal     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ratings_total", Help: "Ratings submitted by rated party"},
		[]string{"subject"},
	)

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})
	WSSessions    = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions", Help: "Open real-time sessions by role"},
		[]string{"role"},
	)
	BroadcastDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_delivered_total", Help: "Messages queued onto live sessions"},
		[]string{"type"},
	)
	BroadcastDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_dropped_total", Help: "Messages dropped because a session send buffer was full"},
		[]string{"type"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Lifecycle events handed to the event stream"},
		[]string{"type", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
