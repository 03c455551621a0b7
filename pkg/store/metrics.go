package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var saveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "store_save_duration_seconds",
	Help:    "The duration of a full document save",
	Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
}, []string{"backend"})

var loadFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "store_load_fallbacks_total",
	Help: "The number of loads that fell back to an empty document",
}, []string{"backend"})
