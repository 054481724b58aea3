package bookingclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_watch_polls_total",
		Help: "Status polls issued by the watcher grouped by outcome.",
	}, []string{"result"})

	watchesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_watch_finished_total",
		Help: "Watches that stopped, grouped by reason.",
	}, []string{"reason"})
)
