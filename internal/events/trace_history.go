package events

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TraceState is a step of a single item's trip through the pipeline
type TraceState string

const (
	StateDispatched     TraceState = "dispatched"
	StateRendered       TraceState = "rendered"
	StateRenderFailed   TraceState = "render_failed"
	StateSent           TraceState = "sent"
	StateResultReceived TraceState = "result_received"
	StateLookupFailed   TraceState = "lookup_failed"
	StatePosted         TraceState = "posted"
	StatePostSucceeded  TraceState = "post_succeeded"
	StatePostFailed     TraceState = "post_failed"
)

// Terminal reports whether no further transition follows state
func (s TraceState) Terminal() bool {
	return s == StatePostSucceeded || s == StatePostFailed
}

// Transition is one recorded state change
type Transition struct {
	State TraceState `json:"state"`
	At    time.Time  `json:"at"`
}

// TraceRecord is the history of one correlation id
type TraceRecord struct {
	CorrelationID string       `json:"correlation_id"`
	State         TraceState   `json:"state"`
	Error         string       `json:"error,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Transitions   []Transition `json:"transitions"`
}

// TraceHistory keeps the most recent traces in a bounded LRU
type TraceHistory struct {
	cache *lru.Cache[string, *TraceRecord]
	mutex sync.Mutex
	now   func() time.Time
}

// NewTraceHistory creates a history holding up to size traces
func NewTraceHistory(size int) *TraceHistory {
	if size <= 0 {
		size = 100 // Default to 100 recent traces
	}
	cache, _ := lru.New[string, *TraceRecord](size)
	return &TraceHistory{
		cache: cache,
		now:   time.Now,
	}
}

// Record appends a transition for correlationID, starting a record if needed
func (th *TraceHistory) Record(correlationID string, state TraceState, err error) {
	if th == nil {
		return
	}

	th.mutex.Lock()
	defer th.mutex.Unlock()

	now := th.now()
	record, found := th.cache.Get(correlationID)
	if !found {
		record = &TraceRecord{
			CorrelationID: correlationID,
			StartedAt:     now,
		}
		th.cache.Add(correlationID, record)
	}

	record.State = state
	record.UpdatedAt = now
	record.Transitions = append(record.Transitions, Transition{State: state, At: now})
	if err != nil {
		record.Error = err.Error()
	}
}

// Get returns a copy of the record for correlationID
func (th *TraceHistory) Get(correlationID string) (TraceRecord, bool) {
	th.mutex.Lock()
	defer th.mutex.Unlock()

	record, found := th.cache.Peek(correlationID)
	if !found {
		return TraceRecord{}, false
	}
	return copyRecord(record), true
}

// Recent returns copies of all held records, newest update first
func (th *TraceHistory) Recent() []TraceRecord {
	th.mutex.Lock()
	defer th.mutex.Unlock()

	records := make([]TraceRecord, 0, th.cache.Len())
	for _, key := range th.cache.Keys() {
		if record, found := th.cache.Peek(key); found {
			records = append(records, copyRecord(record))
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records
}

// Len returns the number of held records
func (th *TraceHistory) Len() int {
	return th.cache.Len()
}

func copyRecord(record *TraceRecord) TraceRecord {
	c := *record
	c.Transitions = append([]Transition(nil), record.Transitions...)
	return c
}
