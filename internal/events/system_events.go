// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package events records the named system events shown on the status page.
package events

import (
	"sync"
	"time"
)

// Named system events. The names are a stable contract read by the status surface.
const (
	FirstPollTime          = "First Poll Time"
	MostRecentPoll         = "Most recent Poll"
	MostRecentPollSuccess  = "Most recent Poll Success"
	MostRecentPollError    = "Most recent Poll Error"
	MostRecentPollStatus   = "Most recent Poll status"
	MostRecentTrace        = "Most recent PDS Trace"
	MostRecentTraceSuccess = "Most recent PDS Trace success"
	MostRecentTraceError   = "Most recent PDS Trace error"
	MostRecentTraceStatus  = "Most recent PDS Trace status"
	MostRecentLookupError  = "Most recent PDS Lookup error"
	ItemsSinceRestart      = "PDS Items since last restart"
	SuccessesSinceRestart  = "PDS Successes since last restart"
	ErrorsSinceRestart     = "PDS Errors since last restart"
	LookupErrorsSinceStart = "PDS Lookup errors since last restart"
	PollsSkipped           = "Polls skipped (in flight)"

	NotSet = "n/a"
)

// Recorder is the facility the pipeline writes system events through
type Recorder interface {
	// Event stamps name with the current time
	Event(name string)
	// EventData stores a status string under name
	EventData(name, value string)
	// Increment adds one to the counter name
	Increment(name string)
}

// Entry is one row of the system events table
type Entry struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// SystemEvents is a mutex-guarded map of timestamps, strings and counters.
// Counters only ever increase; timestamps and strings are last-write-wins.
type SystemEvents struct {
	mutex    sync.RWMutex
	order    []string
	values   map[string]string
	counters map[string]int64
	now      func() time.Time
}

// NewSystemEvents creates the event table seeded with every known name
func NewSystemEvents() *SystemEvents {
	se := &SystemEvents{
		values:   make(map[string]string),
		counters: make(map[string]int64),
		now:      time.Now,
	}
	se.applyDefaults()
	return se
}

// SetClock overrides the clock used for timestamps
func (se *SystemEvents) SetClock(now func() time.Time) {
	se.mutex.Lock()
	defer se.mutex.Unlock()
	se.now = now
}

func (se *SystemEvents) applyDefaults() {
	for _, name := range []string{
		FirstPollTime,
		MostRecentPoll,
		MostRecentPollSuccess,
		MostRecentPollError,
		MostRecentPollStatus,
		MostRecentTrace,
		MostRecentTraceSuccess,
		MostRecentTraceError,
		MostRecentTraceStatus,
		MostRecentLookupError,
	} {
		se.order = append(se.order, name)
		se.values[name] = NotSet
	}
	for _, name := range []string{
		ItemsSinceRestart,
		SuccessesSinceRestart,
		ErrorsSinceRestart,
		LookupErrorsSinceStart,
		PollsSkipped,
	} {
		se.order = append(se.order, name)
		se.counters[name] = 0
	}
}

// Event records the current time under name
func (se *SystemEvents) Event(name string) {
	se.mutex.Lock()
	defer se.mutex.Unlock()
	se.ensure(name)
	se.values[name] = se.now().UTC().Format(time.RFC3339Nano)
}

// EventData records value under name
func (se *SystemEvents) EventData(name, value string) {
	se.mutex.Lock()
	defer se.mutex.Unlock()
	se.ensure(name)
	se.values[name] = value
}

// Increment adds one to the counter name
func (se *SystemEvents) Increment(name string) {
	se.mutex.Lock()
	defer se.mutex.Unlock()
	if _, exists := se.counters[name]; !exists {
		se.order = append(se.order, name)
	}
	se.counters[name]++
}

// ensure registers a new string-valued name. Caller holds the lock.
func (se *SystemEvents) ensure(name string) {
	if _, exists := se.values[name]; exists {
		return
	}
	if _, exists := se.counters[name]; exists {
		return
	}
	se.order = append(se.order, name)
}

// Value returns the string value of name and whether it exists
func (se *SystemEvents) Value(name string) (string, bool) {
	se.mutex.RLock()
	defer se.mutex.RUnlock()
	v, ok := se.values[name]
	return v, ok
}

// Counter returns the current value of counter name
func (se *SystemEvents) Counter(name string) int64 {
	se.mutex.RLock()
	defer se.mutex.RUnlock()
	return se.counters[name]
}

// Snapshot returns every event in registration order
func (se *SystemEvents) Snapshot() []Entry {
	se.mutex.RLock()
	defer se.mutex.RUnlock()

	entries := make([]Entry, 0, len(se.order))
	for _, name := range se.order {
		if c, ok := se.counters[name]; ok {
			entries = append(entries, Entry{Name: name, Value: c})
			continue
		}
		entries = append(entries, Entry{Name: name, Value: se.values[name]})
	}
	return entries
}
