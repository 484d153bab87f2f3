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
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"pdsworker/internal/config"
	"pdsworker/internal/events"
	"pdsworker/internal/logger"
)

//go:embed status.html
var statusPageTemplate string

const timestampLayout = "2006-01-02T15:04:05"

// StatusAPIServer serves the worker's status page and operational endpoints
type StatusAPIServer struct {
	service   config.ServiceConfig
	events    *events.SystemEvents
	history   *events.TraceHistory
	gatherer  prometheus.Gatherer
	baseLevel string
	started   time.Time
	now       func() time.Time
	router    *mux.Router
	server    *http.Server
	logger    zerolog.Logger
}

// APIResponse is the envelope of every JSON endpoint except the raw status report
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServiceInfo is the service section of the status report
type ServiceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	Author      string `json:"author"`
	Uptime      string `json:"uptime"`
	DebugLevel  string `json:"debugLevel"`
}

// StatusReport is returned by /systemStatus?rawJsonOnly=true
type StatusReport struct {
	ServiceInfo  *ServiceInfo   `json:"serviceInfo,omitempty"`
	SystemEvents []events.Entry `json:"systemEvents,omitempty"`
	RenderedAt   string         `json:"renderedAt"`
}

// StatusQuery selects the sections of the status report
type StatusQuery struct {
	ShowServiceInfo  bool
	ShowSystemEvents bool
	RawJSONOnly      bool
}

// ParseStatusQuery reads the status page flags. Sections default to shown
// and JSON output defaults to off; only "true" and "false" are recognised.
func ParseStatusQuery(values map[string][]string) StatusQuery {
	flag := func(name string, def bool) bool {
		v, ok := values[name]
		if !ok || len(v) == 0 {
			return def
		}
		parsed, err := strconv.ParseBool(v[0])
		if err != nil {
			return def
		}
		return parsed
	}

	return StatusQuery{
		ShowServiceInfo:  flag("showServiceInfo", true),
		ShowSystemEvents: flag("showSystemEvents", true),
		RawJSONOnly:      flag("rawJsonOnly", false),
	}
}

// NewStatusAPIServer creates the status server listening on port. baseLevel is
// the configured log level that /toggleDebugMode returns to.
func NewStatusAPIServer(service config.ServiceConfig, se *events.SystemEvents, history *events.TraceHistory,
	gatherer prometheus.Gatherer, baseLevel string, port int) *StatusAPIServer {
	server := &StatusAPIServer{
		service:   service,
		events:    se,
		history:   history,
		gatherer:  gatherer,
		baseLevel: baseLevel,
		started:   time.Now(),
		now:       time.Now,
		logger:    logger.New().With().Str("component", "status_api").Logger(),
	}

	router := mux.NewRouter()

	router.HandleFunc("/", server.handleIndex).Methods("GET")
	router.HandleFunc("/systemStatus", server.handleSystemStatus).Methods("GET")
	router.HandleFunc("/toggleDebugMode", server.handleToggleDebugMode).Methods("POST")
	router.HandleFunc("/traces", server.handleTraces).Methods("GET")
	router.HandleFunc("/traces/{correlationId}", server.handleTrace).Methods("GET")
	router.HandleFunc("/health", server.handleHealth).Methods("GET")
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	server.router = router
	server.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// SetClock overrides the clock used for uptime and render stamps
func (s *StatusAPIServer) SetClock(now func() time.Time) {
	s.now = now
	s.started = now()
}

// Handler returns the router, used by tests
func (s *StatusAPIServer) Handler() http.Handler {
	return s.router
}

// Start starts the status API server
func (s *StatusAPIServer) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("Starting status API server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Status API server error")
		}
	}()

	return nil
}

// Stop stops the status API server
func (s *StatusAPIServer) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping status API server")
	return s.server.Shutdown(ctx)
}

func (s *StatusAPIServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/systemStatus", http.StatusFound)
}

// Report builds the status report for query
func (s *StatusAPIServer) Report(query StatusQuery) StatusReport {
	now := s.now()
	report := StatusReport{RenderedAt: now.Format(timestampLayout)}

	if query.ShowServiceInfo {
		report.ServiceInfo = &ServiceInfo{
			Name:        s.service.Name,
			Description: s.service.Description,
			Version:     s.service.Version,
			Author:      s.service.Author,
			Uptime:      FormatUptime(s.started, now),
			DebugLevel:  logger.Level(),
		}
	}
	if query.ShowSystemEvents {
		report.SystemEvents = s.events.Snapshot()
	}

	return report
}

func (s *StatusAPIServer) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	query := ParseStatusQuery(r.URL.Query())
	report := s.Report(query)

	if query.RawJSONOnly {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(report)
		return
	}

	page, err := s.renderPage(report, query)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "Failed to render status page", err)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, page)
}

func (s *StatusAPIServer) renderPage(report StatusReport, query StatusQuery) (string, error) {
	rows := make([]map[string]any, 0, len(report.SystemEvents))
	for _, entry := range report.SystemEvents {
		rows = append(rows, map[string]any{"name": entry.Name, "value": fmt.Sprint(entry.Value)})
	}

	view := map[string]any{
		"name":             s.service.Name,
		"description":      s.service.Description,
		"showSystemEvents": query.ShowSystemEvents,
		"systemEvents":     rows,
		"renderedAt":       report.RenderedAt,
	}
	if info := report.ServiceInfo; info != nil {
		view["serviceInfo"] = map[string]any{
			"version":    info.Version,
			"author":     info.Author,
			"uptime":     info.Uptime,
			"debugLevel": info.DebugLevel,
		}
	}

	return mustache.Render(statusPageTemplate, view)
}

// handleToggleDebugMode sets the log level from the request body or ?level=,
// or flips between debug and the configured level when neither is given.
func (s *StatusAPIServer) handleToggleDebugMode(w http.ResponseWriter, r *http.Request) {
	level := strings.TrimSpace(r.URL.Query().Get("level"))
	if level == "" {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64))
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "Failed to read request body", err)
			return
		}
		level = strings.ToLower(strings.TrimSpace(string(body)))
	}

	if level == "" {
		level = logger.LOG_DEBUG
		if logger.Level() == logger.LOG_DEBUG {
			level = s.baseLevel
		}
	}

	if !logger.ValidLevel(level) {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("Unknown log level %q", level), nil)
		return
	}

	logger.SetLevel(level)
	s.logger.Info().
		Str("level", level).
		Msg("Log level changed")

	http.Redirect(w, r, "/systemStatus", http.StatusFound)
}

func (s *StatusAPIServer) handleTraces(w http.ResponseWriter, r *http.Request) {
	records := s.history.Recent()
	s.sendSuccess(w, "Recent traces retrieved successfully", map[string]any{
		"traces": records,
		"count":  len(records),
	})
}

func (s *StatusAPIServer) handleTrace(w http.ResponseWriter, r *http.Request) {
	correlationID := mux.Vars(r)["correlationId"]
	record, found := s.history.Get(correlationID)
	if !found {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("No recent trace for %s", correlationID), nil)
		return
	}
	s.sendSuccess(w, "Trace retrieved successfully", record)
}

func (s *StatusAPIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, _ := s.events.Value(events.MostRecentPollStatus)
	s.sendSuccess(w, "Worker is healthy", map[string]any{
		"status":      "healthy",
		"service":     s.service.Name,
		"poll_status": status,
		"uptime":      FormatUptime(s.started, s.now()),
	})
}

// sendSuccess sends a successful response
func (s *StatusAPIServer) sendSuccess(w http.ResponseWriter, message string, data any) {
	response := APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// sendError sends an error response
func (s *StatusAPIServer) sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := APIResponse{
		Success: false,
		Message: message,
	}

	if err != nil {
		response.Error = err.Error()
		s.logger.Error().Err(err).Str("message", message).Msg("API error")
	} else {
		s.logger.Warn().Str("message", message).Msg("API client error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// FormatUptime renders the time since start as "DD days and hh:mm:ss since <start>"
func FormatUptime(start, now time.Time) string {
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	total := int64(elapsed / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	return fmt.Sprintf("%02d days and %02d:%02d:%02d since %s",
		days, hours, minutes, seconds, start.Format(timestampLayout))
}
