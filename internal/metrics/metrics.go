package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adslot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adslot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adslot_bookings_total",
			Help: "Booking attempts by outcome and payment method",
		},
		[]string{"outcome", "payment_method"},
	)

	BookingCancellationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adslot_booking_cancellations_total",
			Help: "Total number of cancelled never-activated bookings",
		},
	)

	ModerationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adslot_moderation_total",
			Help: "Approve and reject decisions",
		},
		[]string{"action"},
	)

	WalletTopUpsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adslot_wallet_topups_total",
			Help: "Total number of wallet top-ups",
		},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adslot_availability_cache_lookups_total",
			Help: "Availability cache lookups by result (hit, miss, shared)",
		},
		[]string{"result"},
	)

	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adslot_availability_cache_invalidations_total",
			Help: "Availability cache invalidations by scope",
		},
		[]string{"scope"},
	)

	TrackingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adslot_tracking_events_total",
			Help: "Tracking events by kind and enqueue status",
		},
		[]string{"kind", "status"},
	)

	BatchFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adslot_analytics_flushes_total",
			Help: "Analytics batch flushes by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adslot_analytics_batch_size",
			Help:    "Number of events per flushed batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adslot_queue_depth",
			Help: "Pending messages in a tracking queue",
		},
		[]string{"queue"},
	)

	SweptBookingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adslot_swept_bookings_total",
			Help: "Bookings deactivated by the expiry sweeper",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordBooking(outcome, paymentMethod string) {
	BookingsTotal.WithLabelValues(outcome, paymentMethod).Inc()
}

func RecordBookingCancellation() {
	BookingCancellationsTotal.Inc()
}

func RecordModeration(action string) {
	ModerationTotal.WithLabelValues(action).Inc()
}

func RecordWalletTopUp() {
	WalletTopUpsTotal.Inc()
}

func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

func RecordCacheInvalidation(scope string) {
	CacheInvalidationsTotal.WithLabelValues(scope).Inc()
}

func RecordTrackingEvent(kind, status string) {
	TrackingEventsTotal.WithLabelValues(kind, status).Inc()
}

func RecordFlush(trigger, status string, size int) {
	BatchFlushesTotal.WithLabelValues(trigger, status).Inc()
	if status == "ok" {
		BatchSize.Observe(float64(size))
	}
}

func SetQueueDepth(queue string, depth int64) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func RecordSweep(count int) {
	SweptBookingsTotal.Add(float64(count))
}
