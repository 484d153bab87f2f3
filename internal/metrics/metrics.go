package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics provides observability for the poll and trace pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Polls          *prometheus.CounterVec
	PollsSkipped   prometheus.Counter
	Items          prometheus.Counter
	Traces         *prometheus.CounterVec
	LookupErrors   prometheus.Counter
	LookupDuration prometheus.Histogram
	InFlight       prometheus.Gauge
}

// New creates the worker metrics registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pdsworker_polls_total",
			Help: "Total number of bridge polls by result",
		}, []string{"result"}),
		PollsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pdsworker_polls_skipped_total",
			Help: "Ticks skipped because the previous poll was still in flight",
		}),
		Items: factory.NewCounter(prometheus.CounterOpts{
			Name: "pdsworker_items_total",
			Help: "Total number of queue items dispatched",
		}),
		Traces: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pdsworker_traces_total",
			Help: "Total number of completed traces by result of the return post",
		}, []string{"result"}),
		LookupErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pdsworker_lookup_errors_total",
			Help: "Total number of failed directory lookups",
		}),
		LookupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pdsworker_lookup_duration_seconds",
			Help:    "Duration of directory lookups including the TLS handshake",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pdsworker_items_in_flight",
			Help: "Queue items currently being traced",
		}),
	}
}

// RecordPoll counts one poll outcome.
func (m *Metrics) RecordPoll(err error) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) IncrementPollsSkipped() {
	if m == nil {
		return
	}
	m.PollsSkipped.Inc()
}

// ItemStarted marks a queue item as dispatched and in flight.
func (m *Metrics) ItemStarted() {
	if m == nil {
		return
	}
	m.Items.Inc()
	m.InFlight.Inc()
}

// ItemFinished records the return post outcome and clears the in-flight mark.
func (m *Metrics) ItemFinished(err error) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Traces.WithLabelValues(result(err)).Inc()
}

// ObserveLookup records the duration of a lookup.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveLookup(start time.Time, err error) {
	if m == nil {
		return
	}
	m.LookupDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.LookupErrors.Inc()
	}
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
