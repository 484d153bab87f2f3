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

// Package worker runs the poll, trace and post pipeline and its status surface.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"pdsworker/internal"
	"pdsworker/internal/bridge"
	"pdsworker/internal/config"
	"pdsworker/internal/events"
	"pdsworker/internal/logger"
	"pdsworker/internal/lookup"
	"pdsworker/internal/metrics"
	"pdsworker/internal/templates"
)

const shutdownTimeout = 10 * time.Second

// Daemon represents the worker daemon
type Daemon struct {
	config     *config.Config
	bridge     *bridge.Client
	tracer     lookup.Tracer
	events     *events.SystemEvents
	history    *events.TraceHistory
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	dispatcher *Dispatcher
	poller     *Poller
	statusAPI  *StatusAPIServer
	logger     zerolog.Logger
	running    bool
	mutex      sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	pollerDone chan struct{}
	mode       internal.RunMode
}

// NewDaemon wires every component from an already validated config
func NewDaemon(cfg *config.Config, mode internal.RunMode) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	daemon := &Daemon{
		config:  cfg,
		logger:  logger.New().With().Str("component", "daemon").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		events:  events.NewSystemEvents(),
		history: events.NewTraceHistory(cfg.Dispatch.TraceHistory),
		mode:    mode,
	}

	if err := daemon.initTracer(); err != nil {
		cancel()
		return nil, err
	}

	daemon.bridge = bridge.NewClient(cfg.BridgeBaseURL(), cfg.Bridge.DequeueMethod, cfg.Bridge.EnqueueMethod, cfg.GetBridgeTimeout())

	daemon.registry = prometheus.NewRegistry()
	daemon.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	daemon.metrics = metrics.New(daemon.registry)

	daemon.dispatcher = NewDispatcher(daemon.bridge, daemon.tracer, daemon.events,
		WithHistory(daemon.history),
		WithMetrics(daemon.metrics),
		WithMaxInFlight(cfg.Dispatch.MaxInFlight),
	)
	daemon.poller = NewPoller(daemon.bridge, daemon.dispatcher, daemon.events, cfg.PollInterval(), daemon.metrics)
	daemon.statusAPI = NewStatusAPIServer(cfg.Service, daemon.events, daemon.history, daemon.registry,
		cfg.Logging.Level, cfg.Worker.Port)

	return daemon, nil
}

// initTracer selects the fake tracer in test mode, otherwise loads the
// templates and client certificate for the mutual-TLS client.
func (d *Daemon) initTracer() error {
	observer := historyObserver{history: d.history}

	if d.mode.FakeLookup(d.config.PDS.UseFake) {
		d.logger.Warn().
			Bool("test_mode", d.mode.Test).
			Dur("latency", d.mode.FakeLatency).
			Msg("Using fake PDS client, no lookups will leave this host")
		d.tracer = lookup.NewFakeClient(d.mode.FakeLatency).WithObserver(observer)
		return nil
	}

	store, err := templates.Load(d.config.PDS.TemplateDir)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	if err := store.Require(d.config.PDS.MessageType); err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	creds, err := lookup.LoadCredentials(lookup.CredentialsConfig{
		PFXFile:            d.config.PDS.PFXFile,
		PFXPassphrase:      d.config.PDS.PFXPassphrase,
		CertFile:           d.config.PDS.CertFile,
		KeyFile:            d.config.PDS.KeyFile,
		CAFile:             d.config.PDS.CAFile,
		InsecureSkipVerify: d.config.PDS.InsecureSkipVerify,
	})
	if err != nil {
		return fmt.Errorf("failed to load PDS credentials: %w", err)
	}
	if creds.Insecure() {
		d.logger.Warn().Msg("PDS server certificate verification is disabled")
	}

	d.tracer = lookup.NewClient(lookup.ClientConfig{
		Host:            d.config.PDS.Host,
		Path:            d.config.PDS.Path,
		MessageType:     d.config.PDS.MessageType,
		ActionNamespace: d.config.PDS.ActionNamespace,
		Timeout:         d.config.GetPDSTimeout(),
	}, creds, store, d.mode, lookup.WithObserver(observer))

	return nil
}

// Start starts the worker daemon and blocks until a shutdown signal arrives
func (d *Daemon) Start() error {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.pollerDone = make(chan struct{})
	d.mutex.Unlock()

	d.logger.Info().
		Str("service", d.config.Service.Name).
		Bool("debug", d.mode.Debug).
		Bool("test_mode", d.mode.Test).
		Msg("Starting PDS worker daemon")

	if err := d.statusAPI.Start(); err != nil {
		return fmt.Errorf("failed to start status API: %w", err)
	}

	go func() {
		defer close(d.pollerDone)
		d.poller.Run(d.ctx)
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	d.logger.Info().
		Str("dequeue_url", d.bridge.DequeueURL()).
		Str("enqueue_url", d.bridge.EnqueueURL()).
		Int("poll_interval_ms", d.config.Worker.PollIntervalMs).
		Int("status_port", d.config.Worker.Port).
		Msg("PDS worker daemon started successfully")

	select {
	case sig := <-sigChan:
		d.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return d.Stop()
	case <-d.ctx.Done():
		d.logger.Info().Msg("Context cancelled")
		return d.Stop()
	}
}

// Stop stops polling, waits for in-flight items and shuts the status API down
func (d *Daemon) Stop() error {
	d.mutex.Lock()
	if !d.running {
		d.mutex.Unlock()
		return nil
	}
	d.running = false
	pollerDone := d.pollerDone
	d.mutex.Unlock()

	d.logger.Info().Msg("Stopping PDS worker daemon")

	d.cancel()
	<-pollerDone
	d.dispatcher.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.statusAPI.Stop(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Error stopping status API")
	}

	d.logger.Info().Msg("PDS worker daemon stopped")
	return nil
}

// IsRunning returns whether the daemon is currently running
func (d *Daemon) IsRunning() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.running
}

// Poller returns the daemon's poller
func (d *Daemon) Poller() *Poller {
	return d.poller
}

// Dispatcher returns the daemon's dispatcher
func (d *Daemon) Dispatcher() *Dispatcher {
	return d.dispatcher
}

// Events returns the daemon's system events
func (d *Daemon) Events() *events.SystemEvents {
	return d.events
}

// History returns the daemon's recent trace history
func (d *Daemon) History() *events.TraceHistory {
	return d.history
}

// StatusAPI returns the daemon's status server
func (d *Daemon) StatusAPI() *StatusAPIServer {
	return d.statusAPI
}
