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

// Package lookup sends rendered trace requests to the PDS lookup service.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"pdsworker/internal"
	"pdsworker/internal/bridge"
	"pdsworker/internal/logger"
	"pdsworker/internal/templates"
)

const (
	// MessageIDField and CreationTimeField are filled in when an item does not carry them
	MessageIDField    = "messageId"
	CreationTimeField = "creationTime"

	creationTimeLayout = "20060102150405"
)

// ErrRender marks a trace that failed before anything was sent
var ErrRender = errors.New("failed to render trace request")

// StatusError reports a lookup response with a non-2xx status. The body is
// returned alongside it since PDS faults are carried in the SOAP body.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pds responded with status %d", e.StatusCode)
}

// Tracer performs one lookup for a queue item and returns the raw result
type Tracer interface {
	SimpleTrace(ctx context.Context, item bridge.QueueItem) (string, error)
}

// Renderer is the subset of the template store the client needs
type Renderer interface {
	Render(name string, fields map[string]any) (templates.Rendered, error)
}

// Observer is told as a trace request moves from rendering to the wire
type Observer interface {
	TraceRendered(correlationID string)
	TraceSent(correlationID string)
}

// ClientConfig holds the PDS endpoint settings
type ClientConfig struct {
	Host            string
	Path            string
	MessageType     string
	ActionNamespace string
	Timeout         time.Duration
}

// Client represents a client for the PDS SOAP service
type Client struct {
	httpClient *http.Client
	config     ClientConfig
	renderer   Renderer
	now        func() time.Time
	observer   Observer
	debug      bool
	logger     zerolog.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the mutual-TLS client, used by tests
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClock overrides the clock used for creationTime
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithObserver registers o for progress notifications
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient creates a PDS client. The transport is built from creds with
// keep-alives disabled so each call performs its own handshake.
func NewClient(cfg ClientConfig, creds *Credentials, renderer Renderer, mode internal.RunMode, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   creds.TLSConfig(),
		DisableKeepAlives: true,
	}

	client := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		config:   cfg,
		renderer: renderer,
		now:      time.Now,
		debug:    mode.Debug,
		logger:   logger.New().With().Str("component", "pds_client").Logger(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Endpoint returns the full lookup URL
func (c *Client) Endpoint() string {
	host := c.config.Host
	if !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host + c.config.Path
}

// SOAPAction returns the action header value for a message type
func (c *Client) SOAPAction(messageType string) string {
	return c.config.ActionNamespace + "/" + messageType
}

// SimpleTrace renders the configured message type for item and sends it
func (c *Client) SimpleTrace(ctx context.Context, item bridge.QueueItem) (string, error) {
	fields := TraceFields(item, c.now())

	rendered, err := c.renderer.Render(c.config.MessageType, fields)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	if c.observer != nil {
		c.observer.TraceRendered(item.CorrelationID())
	}

	c.logger.Info().
		Str("correlation_id", item.CorrelationID()).
		Str("message_id", fmt.Sprint(fields[MessageIDField])).
		Str("message_type", rendered.MessageType).
		Msg("Sending PDS trace")

	if c.debug {
		c.logger.Debug().
			Str("correlation_id", item.CorrelationID()).
			Str("body", rendered.Body).
			Msg("Rendered PDS request")
	}

	if c.observer != nil {
		c.observer.TraceSent(item.CorrelationID())
	}
	return c.Send(ctx, rendered.Body, rendered.MessageType)
}

// Send posts body to the lookup service and returns the response body verbatim
func (c *Client) Send(ctx context.Context, body string, messageType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create PDS request: %w", err)
	}

	req.Header.Set("SOAPAction", c.SOAPAction(messageType))
	req.Header.Set("Content-Type", "text/xml")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send PDS request: %w", err)
	}
	defer resp.Body.Close()

	result, err := io.ReadAll(resp.Body)
	if err != nil {
		return string(result), fmt.Errorf("failed to read PDS response: %w", err)
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Str("message_type", messageType).
		Dur("latency", time.Since(start)).
		Int("response_size", len(result)).
		Msg("PDS request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(result), &StatusError{StatusCode: resp.StatusCode}
	}

	return string(result), nil
}

// TraceFields copies item and fills in messageId and creationTime when absent
func TraceFields(item bridge.QueueItem, now time.Time) map[string]any {
	fields := item.Fields()
	if _, ok := fields[MessageIDField]; !ok {
		fields[MessageIDField] = strings.ToUpper(uuid.New().String())
	}
	if _, ok := fields[CreationTimeField]; !ok {
		fields[CreationTimeField] = now.UTC().Format(creationTimeLayout)
	}
	return fields
}
