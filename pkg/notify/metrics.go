package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notify_notifications_total",
	Help: "The number of notification attempts by method and result",
}, []string{"method", "result"})
