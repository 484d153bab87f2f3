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

// Package bridge talks to the upstream bridge that owns the pending-work queue.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"pdsworker/internal/logger"
)

var (
	// ErrPoll wraps every dequeue failure
	ErrPoll = errors.New("bridge poll failed")
	// ErrEnqueue wraps every return post failure
	ErrEnqueue = errors.New("bridge enqueue failed")
)

// StatusError reports a bridge response with a status other than 200
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client represents a client for the bridge dequeue/enqueue endpoints
type Client struct {
	httpClient    *http.Client
	baseURL       string
	dequeueMethod string
	enqueueMethod string
	logger        zerolog.Logger
}

// NewClient creates a bridge client. baseURL must end with '/'.
func NewClient(baseURL, dequeueMethod, enqueueMethod string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:       baseURL,
		dequeueMethod: dequeueMethod,
		enqueueMethod: enqueueMethod,
		logger:        logger.New().With().Str("component", "bridge").Logger(),
	}
}

// DequeueURL returns the full dequeue endpoint
func (c *Client) DequeueURL() string {
	return c.baseURL + c.dequeueMethod
}

// EnqueueURL returns the full enqueue endpoint
func (c *Client) EnqueueURL() string {
	return c.baseURL + c.enqueueMethod
}

// Dequeue fetches all pending items. Any transport error, non-200 status or
// undecodable body is reported as ErrPoll.
func (c *Client) Dequeue(ctx context.Context) ([]QueueItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DequeueURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrPoll, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoll, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %w", ErrPoll, &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	// Numbers stay json.Number so long identifiers render without exponents
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var items []QueueItem
	if err := dec.Decode(&items); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to decode queue items: %w", ErrPoll, err)
	}

	c.logger.Debug().
		Str("url", c.DequeueURL()).
		Int("items", len(items)).
		Msg("Dequeued items from bridge")

	return items, nil
}

// Enqueue posts a return envelope back to the bridge
func (c *Client) Enqueue(ctx context.Context, envelope *ReturnEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal envelope: %w", ErrEnqueue, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.EnqueueURL(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", ErrEnqueue, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEnqueue, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %w", ErrEnqueue, &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
