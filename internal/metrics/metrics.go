package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coachbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_created_total",
			Help:      "Reservations created by settlement mode.",
		},
		[]string{"mode"},
	)

	reservationsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_rejected_total",
			Help:      "Rejected booking attempts by reason.",
		},
		[]string{"reason"},
	)

	sweepTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_transitions_total",
			Help:      "Records moved to a terminal state by the completion sweep.",
		},
		[]string{"kind"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Gateway settlement callbacks by outcome.",
		},
		[]string{"outcome"},
	)

	channelProvisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_provision_total",
			Help:      "Chat channel provisioning attempts by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			reservationsCreated,
			reservationsRejected,
			sweepTransitions,
			settlements,
			channelProvisions,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncReservationCreated(mode string) {
	reservationsCreated.WithLabelValues(mode).Inc()
}

func IncReservationRejected(reason string) {
	reservationsRejected.WithLabelValues(reason).Inc()
}

// AddSweepTransitions adds n to the counter for kind; zero is ignored.
func AddSweepTransitions(kind string, n int64) {
	if n <= 0 {
		return
	}
	sweepTransitions.WithLabelValues(kind).Add(float64(n))
}

func IncSettlement(outcome string) {
	settlements.WithLabelValues(outcome).Inc()
}

func IncChannelProvision(result string) {
	channelProvisions.WithLabelValues(result).Inc()
}
