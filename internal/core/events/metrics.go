package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	brokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registration_events_broker_connected",
			Help: "1 while the RabbitMQ publisher holds an open channel",
		},
	)

	brokerReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_events_reconnects_total",
			Help: "RabbitMQ reconnect attempts by result",
		},
		[]string{"result"},
	)
)
