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

package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"pdsworker/internal/bridge"
	"pdsworker/internal/events"
	"pdsworker/internal/logger"
	"pdsworker/internal/lookup"
	"pdsworker/internal/metrics"
)

const (
	StatusPostOK          = "OK posting"
	StatusPostErrorPrefix = "ERROR in post: "
)

// Queue is the bridge surface the worker consumes
type Queue interface {
	Dequeue(ctx context.Context) ([]bridge.QueueItem, error)
	Enqueue(ctx context.Context, envelope *bridge.ReturnEnvelope) error
}

// Dispatcher traces queue items and posts each result back to the bridge.
// Every item runs on its own goroutine; one item's failure never affects another.
type Dispatcher struct {
	queue       Queue
	tracer      lookup.Tracer
	events      events.Recorder
	history     *events.TraceHistory
	metrics     *metrics.Metrics
	maxInFlight int
	logger      zerolog.Logger
	wg          sync.WaitGroup
}

// DispatcherOption customises a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithHistory records per-item state transitions into history
func WithHistory(history *events.TraceHistory) DispatcherOption {
	return func(d *Dispatcher) {
		d.history = history
	}
}

// WithMetrics records pipeline metrics into m
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithMaxInFlight bounds the concurrent items of one batch. Zero means unbounded.
func WithMaxInFlight(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxInFlight = n
	}
}

// NewDispatcher creates a dispatcher posting results through queue
func NewDispatcher(queue Queue, tracer lookup.Tracer, recorder events.Recorder, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:  queue,
		tracer: tracer,
		events: recorder,
		logger: logger.New().With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchBatch starts tracing items in the background and returns at once.
// Items outlive cancellation of ctx so in-flight posts are not abandoned;
// per-call timeouts bound them instead.
func (d *Dispatcher) DispatchBatch(ctx context.Context, items []bridge.QueueItem) {
	if len(items) == 0 {
		return
	}

	limit := -1
	if d.maxInFlight > 0 {
		limit = d.maxInFlight
	}
	itemCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		var g errgroup.Group
		g.SetLimit(limit)
		for _, item := range items {
			item := item
			g.Go(func() error {
				// Failures are recorded per item and never cancel siblings
				_ = d.Dispatch(itemCtx, item)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until every dispatched batch has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch traces one item and posts the envelope. The returned error is the
// post failure, if any; lookup failures are carried inside the envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, item bridge.QueueItem) error {
	correlationID := item.CorrelationID()
	log := d.logger.With().Str("correlation_id", correlationID).Logger()

	d.events.Event(events.MostRecentTrace)
	d.events.Increment(events.ItemsSinceRestart)
	d.history.Record(correlationID, events.StateDispatched, nil)
	d.metrics.ItemStarted()

	start := time.Now()
	result, lookupErr := d.tracer.SimpleTrace(ctx, item)
	d.metrics.ObserveLookup(start, lookupErr)

	if lookupErr != nil {
		state := events.StateLookupFailed
		if errors.Is(lookupErr, lookup.ErrRender) {
			state = events.StateRenderFailed
		}
		d.history.Record(correlationID, state, lookupErr)
		d.events.Event(events.MostRecentLookupError)
		d.events.Increment(events.LookupErrorsSinceStart)

		log.Error().
			Err(lookupErr).
			Dur("latency", time.Since(start)).
			Msg("PDS lookup failed, posting error envelope")
	} else {
		d.history.Record(correlationID, events.StateResultReceived, nil)
		log.Debug().
			Dur("latency", time.Since(start)).
			Int("result_size", len(result)).
			Msg("PDS lookup completed")
	}

	envelope := bridge.NewReturnEnvelope(item, result, lookupErr)
	d.history.Record(correlationID, events.StatePosted, nil)

	if err := d.queue.Enqueue(ctx, envelope); err != nil {
		d.events.Event(events.MostRecentTraceError)
		d.events.Increment(events.ErrorsSinceRestart)
		d.events.EventData(events.MostRecentTraceStatus, StatusPostErrorPrefix+err.Error())
		d.history.Record(correlationID, events.StatePostFailed, err)
		d.metrics.ItemFinished(err)

		log.Error().Err(err).Msg("Failed to post trace result to bridge")
		return err
	}

	d.events.Event(events.MostRecentTraceSuccess)
	d.events.Increment(events.SuccessesSinceRestart)
	d.events.EventData(events.MostRecentTraceStatus, StatusPostOK)
	d.history.Record(correlationID, events.StatePostSucceeded, nil)
	d.metrics.ItemFinished(nil)

	log.Info().
		Bool("lookup_error", lookupErr != nil).
		Msg("Trace result posted to bridge")
	return nil
}

// historyObserver forwards lookup progress into the trace history
type historyObserver struct {
	history *events.TraceHistory
}

func (o historyObserver) TraceRendered(correlationID string) {
	o.history.Record(correlationID, events.StateRendered, nil)
}

func (o historyObserver) TraceSent(correlationID string) {
	o.history.Record(correlationID, events.StateSent, nil)
}
