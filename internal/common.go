package internal

import "time"

// RunMode carries the command line switches every component may consult
type RunMode struct {
	Debug bool
	Test  bool
	// FakeLatency delays each fake trace answer, zero answers at once
	FakeLatency time.Duration
}

type RunModeOption func(*RunMode)

func WithDebug(debug bool) RunModeOption {
	return func(m *RunMode) {
		m.Debug = debug
	}
}

func WithTest(test bool) RunModeOption {
	return func(m *RunMode) {
		m.Test = test
	}
}

func WithFakeLatency(latency time.Duration) RunModeOption {
	return func(m *RunMode) {
		m.FakeLatency = latency
	}
}

func NewRunMode(options ...RunModeOption) RunMode {
	var m RunMode
	for _, option := range options {
		option(&m)
	}
	return m
}

// FakeLookup reports whether traces are answered locally instead of by PDS.
// Test mode forces it regardless of configuration.
func (m RunMode) FakeLookup(configured bool) bool {
	return m.Test || configured
}
