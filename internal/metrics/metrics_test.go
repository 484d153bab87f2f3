package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordPoll(nil)
	m.RecordPoll(nil)
	m.RecordPoll(errors.New("connection refused"))
	m.IncrementPollsSkipped()

	m.ItemStarted()
	m.ItemStarted()
	m.ObserveLookup(time.Now(), errors.New("handshake failure"))
	m.ItemFinished(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Polls.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Polls.WithLabelValues(ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollsSkipped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Items))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Traces.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupErrors))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPoll(nil)
		m.IncrementPollsSkipped()
		m.ItemStarted()
		m.ObserveLookup(time.Now(), nil)
		m.ItemFinished(errors.New("x"))
	})
}
