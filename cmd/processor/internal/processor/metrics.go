package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "processor_messages_total",
	Help: "Ticks consumed from Kafka by result",
}, []string{"result"}) // stored/duplicate/invalid/dropped/store_error
