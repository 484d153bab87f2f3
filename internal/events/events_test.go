package events_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pdsworker/internal/events"
)

func TestSystemEventsDefaults(t *testing.T) {
	se := events.NewSystemEvents()
	snapshot := se.Snapshot()

	names := make([]string, 0, len(snapshot))
	for _, entry := range snapshot {
		names = append(names, entry.Name)
	}

	assert.Equal(t, []string{
		"First Poll Time",
		"Most recent Poll",
		"Most recent Poll Success",
		"Most recent Poll Error",
		"Most recent Poll status",
		"Most recent PDS Trace",
		"Most recent PDS Trace success",
		"Most recent PDS Trace error",
		"Most recent PDS Trace status",
		"Most recent PDS Lookup error",
		"PDS Items since last restart",
		"PDS Successes since last restart",
		"PDS Errors since last restart",
		"PDS Lookup errors since last restart",
		"Polls skipped (in flight)",
	}, names)

	value, ok := se.Value(events.FirstPollTime)
	require.True(t, ok)
	assert.Equal(t, events.NotSet, value)
	assert.Equal(t, int64(0), se.Counter(events.ItemsSinceRestart))
}

func TestSystemEventsRecording(t *testing.T) {
	se := events.NewSystemEvents()
	se.SetClock(func() time.Time { return time.Unix(9876543, 210).UTC() })

	se.Event(events.MostRecentPoll)
	se.EventData(events.MostRecentPollStatus, "OK polling Bridge")
	se.Increment(events.ItemsSinceRestart)
	se.Increment(events.ItemsSinceRestart)

	value, _ := se.Value(events.MostRecentPoll)
	assert.Equal(t, "1970-04-25T07:29:03.00000021Z", value)

	status, _ := se.Value(events.MostRecentPollStatus)
	assert.Equal(t, "OK polling Bridge", status)
	assert.Equal(t, int64(2), se.Counter(events.ItemsSinceRestart))

	t.Run("unknown names are appended", func(t *testing.T) {
		se.EventData("Custom status", "fine")
		se.Increment("Custom counter")

		snapshot := se.Snapshot()
		require.GreaterOrEqual(t, len(snapshot), 2)
		assert.Equal(t, events.Entry{Name: "Custom status", Value: "fine"}, snapshot[len(snapshot)-2])
		assert.Equal(t, events.Entry{Name: "Custom counter", Value: int64(1)}, snapshot[len(snapshot)-1])
	})
}

func TestSystemEventsConcurrentIncrements(t *testing.T) {
	se := events.NewSystemEvents()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				se.Increment(events.SuccessesSinceRestart)
				se.Event(events.MostRecentTraceSuccess)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), se.Counter(events.SuccessesSinceRestart))
}

func TestTraceHistory(t *testing.T) {
	t.Run("records transitions in order", func(t *testing.T) {
		history := events.NewTraceHistory(10)

		history.Record("c1", events.StateDispatched, nil)
		history.Record("c1", events.StateRendered, nil)
		history.Record("c1", events.StateSent, nil)
		history.Record("c1", events.StatePostFailed, errors.New("connection refused"))

		record, found := history.Get("c1")
		require.True(t, found)
		assert.Equal(t, events.StatePostFailed, record.State)
		assert.True(t, record.State.Terminal())
		assert.Equal(t, "connection refused", record.Error)

		states := make([]events.TraceState, 0, len(record.Transitions))
		for _, tr := range record.Transitions {
			states = append(states, tr.State)
		}
		assert.Equal(t, []events.TraceState{
			events.StateDispatched, events.StateRendered, events.StateSent, events.StatePostFailed,
		}, states)
	})

	t.Run("evicts oldest beyond capacity", func(t *testing.T) {
		history := events.NewTraceHistory(3)
		for i := 0; i < 5; i++ {
			history.Record(fmt.Sprintf("c%d", i), events.StateDispatched, nil)
		}

		assert.Equal(t, 3, history.Len())
		_, found := history.Get("c0")
		assert.False(t, found)
		_, found = history.Get("c4")
		assert.True(t, found)
	})

	t.Run("recent is newest first", func(t *testing.T) {
		history := events.NewTraceHistory(0)
		history.Record("a", events.StateDispatched, nil)
		time.Sleep(2 * time.Millisecond)
		history.Record("b", events.StateDispatched, nil)

		recent := history.Recent()
		require.Len(t, recent, 2)
		assert.Equal(t, "b", recent[0].CorrelationID)
		assert.Equal(t, "a", recent[1].CorrelationID)
	})

	t.Run("nil history ignores records", func(t *testing.T) {
		var history *events.TraceHistory
		assert.NotPanics(t, func() {
			history.Record("c1", events.StateDispatched, nil)
		})
	})
}
