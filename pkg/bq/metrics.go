package bq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "bq_queue_depth",
	Help: "The number of events waiting for the next BQ insert",
}, []string{"table"})

var eventsBuffered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bq_events_buffered_total",
	Help: "The number of events buffered for insert, by event category",
}, []string{"table", "category"})

var eventsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bq_events_inserted_total",
	Help: "The number of events handed to BQ, by event category and outcome",
}, []string{"table", "category", "result"})

var batchSubmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bq_batch_submission_duration_seconds",
	Help:    "The duration of time it takes to submit a batch of events to BQ",
	Buckets: prometheus.DefBuckets,
}, []string{"table"})

var batchSizeHist = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bq_batch_size",
	Help:    "The number of events in a batch submitted to BQ",
	Buckets: prometheus.ExponentialBuckets(1, 2, 20),
}, []string{"table"})
