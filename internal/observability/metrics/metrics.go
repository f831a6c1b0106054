package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Live WebSocket connections on this instance.",
		},
	)

	MessagesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Send operations processed by the relay.",
		},
		[]string{"result"},
	)

	FanOutDeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_fanout_deliveries_total",
			Help: "Events enqueued to local connections.",
		},
	)

	BrokerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broker_events_total",
			Help: "Events crossing the broker, by channel and direction.",
		},
		[]string{"channel", "direction"},
	)

	PresenceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_presence_transitions_total",
			Help: "Online/offline edges emitted by this instance.",
		},
		[]string{"state"},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_authentication_attempts_total",
			Help: "Token validations, by method and result.",
		},
		[]string{"method", "result"},
	)
)

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		ConnectionsActive,
		MessagesRelayedTotal,
		FanOutDeliveriesTotal,
		BrokerEventsTotal,
		PresenceTransitionsTotal,
		AuthenticationAttemptsTotal,
	)
}
