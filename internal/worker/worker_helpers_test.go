package worker_test

import (
	"context"
	"errors"
	"sync"

	"pdsworker/internal/bridge"
)

var errBridgeDown = errors.New("connect: connection refused")

// stubQueue is an in-memory bridge
type stubQueue struct {
	mutex      sync.Mutex
	items      []bridge.QueueItem
	dequeueErr error
	enqueueErr func(*bridge.ReturnEnvelope) error
	posted     []*bridge.ReturnEnvelope
	entered    chan struct{}
	release    chan struct{}
}

func (q *stubQueue) Dequeue(ctx context.Context) ([]bridge.QueueItem, error) {
	if q.entered != nil {
		q.entered <- struct{}{}
	}
	if q.release != nil {
		<-q.release
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.dequeueErr != nil {
		return nil, q.dequeueErr
	}
	items := q.items
	q.items = nil
	return items, nil
}

func (q *stubQueue) Enqueue(ctx context.Context, envelope *bridge.ReturnEnvelope) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.posted = append(q.posted, envelope)
	if q.enqueueErr != nil {
		return q.enqueueErr(envelope)
	}
	return nil
}

func (q *stubQueue) Posted() []*bridge.ReturnEnvelope {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]*bridge.ReturnEnvelope(nil), q.posted...)
}

// stubTracer answers every trace with fn
type stubTracer struct {
	fn func(ctx context.Context, item bridge.QueueItem) (string, error)
}

func (t stubTracer) SimpleTrace(ctx context.Context, item bridge.QueueItem) (string, error) {
	return t.fn(ctx, item)
}

func echoTracer() stubTracer {
	return stubTracer{fn: func(ctx context.Context, item bridge.QueueItem) (string, error) {
		return "<result>" + item.CorrelationID() + "</result>", nil
	}}
}
