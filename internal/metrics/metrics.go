package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for booking, lifecycle and expiry flows.
type BookingMetrics struct {
	bookings      *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	autoRejected  prometheus.Counter
	notifyFailed  *prometheus.CounterVec
	slotAnomalies prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment lifecycle transitions by action and outcome",
		}, []string{"action", "outcome"}),
		autoRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "auto_rejected_total",
			Help:      "Pending appointments rejected because their slot started unanswered",
		}),
		notifyFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "notification_failures_total",
			Help:      "Notification events that could not be published",
		}, []string{"event_type"}),
		slotAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slot_anomalies_total",
			Help:      "Slots found with more than one active appointment",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.transitions, m.autoRejected, m.notifyFailed, m.slotAnomalies)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

func (m *BookingMetrics) AddAutoRejected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.autoRejected.Add(float64(n))
}

func (m *BookingMetrics) ObserveNotificationFailure(eventType string) {
	if m == nil {
		return
	}
	m.notifyFailed.WithLabelValues(eventType).Inc()
}

func (m *BookingMetrics) ObserveSlotAnomaly() {
	if m == nil {
		return
	}
	m.slotAnomalies.Inc()
}
