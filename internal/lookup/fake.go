package lookup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"pdsworker/internal/bridge"
	"pdsworker/internal/logger"
)

// FakeClient answers traces locally without touching PDS. Used when
// pds.use_fake is set or the worker runs in test mode.
type FakeClient struct {
	latency  time.Duration
	observer Observer
	logger   zerolog.Logger
}

// NewFakeClient creates a fake tracer that waits latency before answering
func NewFakeClient(latency time.Duration) *FakeClient {
	return &FakeClient{
		latency: latency,
		logger:  logger.New().With().Str("component", "pds_fake").Logger(),
	}
}

// WithObserver registers o for progress notifications and returns f
func (f *FakeClient) WithObserver(o Observer) *FakeClient {
	f.observer = o
	return f
}

// SimpleTrace returns a canned trace response echoing the item's fields
func (f *FakeClient) SimpleTrace(ctx context.Context, item bridge.QueueItem) (string, error) {
	if f.observer != nil {
		f.observer.TraceRendered(item.CorrelationID())
		f.observer.TraceSent(item.CorrelationID())
	}
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.logger.Debug().
		Str("correlation_id", item.CorrelationID()).
		Msg("Answering trace from fake PDS")

	return fmt.Sprintf(`<fakeTraceResponse><correlationId>%s</correlationId><nhsNumber>%v</nhsNumber></fakeTraceResponse>`,
		item.CorrelationID(), valueOrEmpty(item["nhsNumber"])), nil
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
