package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_events_ingested_total",
	Help: "The number of events received, by category and outcome",
}, []string{"category", "result"})

var relayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_events_relayed_total",
	Help: "The number of events relayed to the notifier, by category and outcome",
}, []string{"category", "result"})

var liveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "relay_live_subscribers",
	Help: "The number of connected live feed subscribers",
})

var liveDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "relay_live_dropped_total",
	Help: "The number of live feed subscribers dropped for falling behind",
})
