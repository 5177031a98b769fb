package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_dispatch_published_total",
		Help: "Total records handed to the log, by channel and result.",
	}, []string{"channel", "result"})

	Consumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_dispatch_consumed_total",
		Help: "Total records consumed, by channel and outcome (ack|nack|poison).",
	}, []string{"channel", "outcome"})

	DeliverOnline = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_dispatch_deliver_online_total",
		Help: "Total successful online pushes.",
	})
	DeliverOffline = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_dispatch_deliver_offline_total",
		Help: "Total offline saves.",
	})
	DeliverFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_dispatch_deliver_fail_total",
		Help: "Total per-target delivery failures (push or offline save).",
	})
	PresenceFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_dispatch_presence_fail_total",
		Help: "Total presence check failures (target treated as offline).",
	})

	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_dispatch_events_total",
		Help: "Total system events recorded, by type.",
	}, []string{"type"})

	VendorDrop = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_dispatch_vendor_drop_total",
		Help: "Total vendor notifications dropped because the queue was full.",
	})

	GatewayConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "im_dispatch_gateway_connections",
		Help: "Current websocket connections attached to this node.",
	})
	BreakerOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_dispatch_breaker_open_total",
		Help: "Total times a circuit breaker opened for a gateway node.",
	})
)

func Register() {
	prometheus.MustRegister(
		Published, Consumed,
		DeliverOnline, DeliverOffline, DeliverFail, PresenceFail,
		Events, VendorDrop,
		GatewayConns, BreakerOpen,
	)
}
