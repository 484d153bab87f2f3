package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"pdsworker/internal/events"
	"pdsworker/internal/logger"
	"pdsworker/internal/metrics"
)

const (
	StatusPollOK          = "OK polling Bridge"
	StatusPollErrorPrefix = "Error polling Bridge: "
)

// ErrPollInFlight is returned when a poll is skipped because the previous one has not returned
var ErrPollInFlight = errors.New("previous poll still in flight")

// Poller dequeues from the bridge on a fixed interval and hands batches to the dispatcher
type Poller struct {
	queue      Queue
	dispatcher *Dispatcher
	events     events.Recorder
	metrics    *metrics.Metrics
	interval   time.Duration
	inFlight   atomic.Bool
	polledOnce atomic.Bool
	wg         sync.WaitGroup
	logger     zerolog.Logger
}

// NewPoller creates a poller. m may be nil.
func NewPoller(queue Queue, dispatcher *Dispatcher, recorder events.Recorder, interval time.Duration, m *metrics.Metrics) *Poller {
	return &Poller{
		queue:      queue,
		dispatcher: dispatcher,
		events:     recorder,
		metrics:    m,
		interval:   interval,
		logger:     logger.New().With().Str("component", "poller").Logger(),
	}
}

// Run polls every interval until ctx is cancelled. Each tick polls on its own
// goroutine so a slow bridge is visible as skipped ticks.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().
		Dur("interval", p.interval).
		Msg("Polling bridge")

	for {
		select {
		case <-ticker.C:
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				_, _ = p.Poll(ctx)
			}()
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info().Msg("Poller stopping")
			return
		}
	}
}

// Poll performs one dequeue round trip and dispatches the returned items.
// It returns the number of items dispatched.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.events.Increment(events.PollsSkipped)
		p.metrics.IncrementPollsSkipped()
		p.logger.Warn().Msg("Skipping poll, previous poll still in flight")
		return 0, ErrPollInFlight
	}
	defer p.inFlight.Store(false)

	items, err := p.queue.Dequeue(ctx)
	p.events.Event(events.MostRecentPoll)
	p.metrics.RecordPoll(err)

	if err != nil {
		p.events.Event(events.MostRecentPollError)
		p.events.EventData(events.MostRecentPollStatus, StatusPollErrorPrefix+err.Error())
		// The next success records First Poll Time again
		p.polledOnce.Store(false)

		p.logger.Error().Err(err).Msg("Failed to poll bridge")
		return 0, err
	}

	if p.polledOnce.CompareAndSwap(false, true) {
		p.events.Event(events.FirstPollTime)
	}
	p.events.Event(events.MostRecentPollSuccess)
	p.events.EventData(events.MostRecentPollStatus, StatusPollOK)

	if len(items) > 0 {
		p.logger.Info().
			Int("items", len(items)).
			Msg("Dispatching items from bridge")
	}
	p.dispatcher.DispatchBatch(ctx, items)

	return len(items), nil
}
