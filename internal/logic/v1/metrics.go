package v1

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Registration submissions by outcome",
		},
		[]string{"outcome"},
	)

	customerLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "customer_lookups_total",
			Help: "Customer directory lookups by key and result",
		},
		[]string{"key", "result"},
	)

	staleLookupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phone_lookups_stale_total",
			Help: "Phone lookup results discarded because a newer phone value superseded them",
		},
	)

	formSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "form_sessions_active",
			Help: "Open registration form sessions",
		},
	)
)
