package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings persisted.",
	})

	validationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_validation_failures_total",
		Help: "Rejected booking requests grouped by offending field.",
	}, []string{"field"})

	createDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booking_create_duration_seconds",
		Help:    "Time spent creating a booking.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Status transitions grouped by target status and outcome.",
	}, []string{"target", "result"})

	statusReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_status_reads_total",
		Help: "Status reads grouped by outcome.",
	}, []string{"result"})
)
