package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hirenest",
		Subsystem: "feed",
		Name:      "subscribers",
		Help:      "Open realtime feed subscriptions.",
	})
	feedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hirenest",
		Subsystem: "feed",
		Name:      "dropped_total",
		Help:      "Changes not delivered because a subscriber buffer was full.",
	})
)
