package msgserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"excport/internal/mach"
)

// Metrics counts what a Server handles. A nil *Metrics records nothing.
type Metrics struct {
	Received       prometheus.Counter
	DecodeFailures prometheus.Counter
	Replies        *prometheus.CounterVec
	Dispatch       prometheus.Histogram
}

// NewMetrics registers the server metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Received: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "excport_messages_received_total",
				Help: "Total number of exception messages received",
			},
		),
		DecodeFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "excport_decode_failures_total",
				Help: "Total number of exception messages that failed to decode",
			},
		),
		Replies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "excport_replies_total",
				Help: "Total number of replies by return code",
			},
			[]string{"result"},
		),
		Dispatch: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "excport_dispatch_duration_seconds",
				Help:    "Time spent in the catcher per exception message",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
	}
}

func (m *Metrics) received() {
	if m != nil {
		m.Received.Inc()
	}
}

func (m *Metrics) decodeFailed() {
	if m != nil {
		m.DecodeFailures.Inc()
	}
}

func (m *Metrics) replied(result mach.KernReturn) {
	if m != nil {
		m.Replies.WithLabelValues(result.String()).Inc()
	}
}

func (m *Metrics) dispatched(d time.Duration) {
	if m != nil {
		m.Dispatch.Observe(d.Seconds())
	}
}
