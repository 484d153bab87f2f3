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

package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServiceName     = "PDS Worker-Service"
	DefaultStatusPort      = 9005
	DefaultPollIntervalMs  = 5000
	DefaultBridgeTimeout   = "15s"
	DefaultPDSPath         = "/sync-service"
	DefaultPDSTimeout      = "30s"
	DefaultTemplateDir     = "./pdstemplates"
	DefaultMessageType     = "QUPA_IN000008UK02"
	DefaultActionNamespace = "urn:nhs:names:services:pdsquery"
	DefaultTraceHistory    = 100
)

// Config represents the worker configuration structure
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Worker   WorkerConfig   `yaml:"worker"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	PDS      PDSConfig      `yaml:"pds"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig describes the service for the status page
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	Author      string `yaml:"author"`
}

// WorkerConfig contains the status server port and poll cadence
type WorkerConfig struct {
	Port           int `yaml:"port"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// BridgeConfig contains the bridge queue endpoints
type BridgeConfig struct {
	URL           string `yaml:"url"`
	Port          int    `yaml:"port"`
	DequeueMethod string `yaml:"dequeue_method"`
	EnqueueMethod string `yaml:"enqueue_method"`
	Timeout       string `yaml:"timeout"`
}

// PDSConfig contains lookup service connection settings
type PDSConfig struct {
	Host               string `yaml:"host"`
	Path               string `yaml:"path"`
	PFXFile            string `yaml:"pfx_file"`
	PFXPassphrase      string `yaml:"pfx_passphrase"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	UseFake            bool   `yaml:"use_fake"`
	Timeout            string `yaml:"timeout"`
	TemplateDir        string `yaml:"template_dir"`
	MessageType        string `yaml:"message_type"`
	ActionNamespace    string `yaml:"action_namespace"`
}

// DispatchConfig bounds per-batch fan-out. Zero means unbounded.
type DispatchConfig struct {
	MaxInFlight  int `yaml:"max_in_flight"`
	TraceHistory int `yaml:"trace_history"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates a default configuration template
func NewDefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        DefaultServiceName,
			Description: "Drains the bridge queue, traces each item against PDS and posts the result back",
			Version:     "1.0.0",
			Author:      "Citizen Identity Project",
		},
		Worker: WorkerConfig{
			Port:           DefaultStatusPort,
			PollIntervalMs: DefaultPollIntervalMs,
		},
		Bridge: BridgeConfig{
			URL:           "http://localhost",
			Port:          9004,
			DequeueMethod: "dequeueFromBridgeToWorker",
			EnqueueMethod: "enqueueFromWorkerBackToBridge",
			Timeout:       DefaultBridgeTimeout,
		},
		PDS: PDSConfig{
			Host:            "pds.example.nhs.uk",
			Path:            DefaultPDSPath,
			PFXFile:         "client.pfx",
			PFXPassphrase:   "pfx_passphrase_here",
			Timeout:         DefaultPDSTimeout,
			TemplateDir:     DefaultTemplateDir,
			MessageType:     DefaultMessageType,
			ActionNamespace: DefaultActionNamespace,
		},
		Dispatch: DispatchConfig{
			MaxInFlight:  0,
			TraceHistory: DefaultTraceHistory,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// setDefaults ensures all optional fields have default values
func (c *Config) setDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = DefaultServiceName
	}
	if c.Worker.Port == 0 {
		c.Worker.Port = DefaultStatusPort
	}
	if c.Worker.PollIntervalMs == 0 {
		c.Worker.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.Bridge.Timeout == "" {
		c.Bridge.Timeout = DefaultBridgeTimeout
	}
	if c.PDS.Path == "" {
		c.PDS.Path = DefaultPDSPath
	}
	if c.PDS.Timeout == "" {
		c.PDS.Timeout = DefaultPDSTimeout
	}
	if c.PDS.TemplateDir == "" {
		c.PDS.TemplateDir = DefaultTemplateDir
	}
	if c.PDS.MessageType == "" {
		c.PDS.MessageType = DefaultMessageType
	}
	if c.PDS.ActionNamespace == "" {
		c.PDS.ActionNamespace = DefaultActionNamespace
	}
	if c.Dispatch.TraceHistory == 0 {
		c.Dispatch.TraceHistory = DefaultTraceHistory
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Worker.Port <= 0 || c.Worker.Port > 65535 {
		return fmt.Errorf("worker.port must be between 1 and 65535, got %d", c.Worker.Port)
	}
	if c.Worker.PollIntervalMs <= 0 {
		return fmt.Errorf("worker.poll_interval_ms must be greater than 0")
	}

	// Validate bridge config
	if c.Bridge.URL == "" {
		return fmt.Errorf("bridge.url is required")
	}
	if _, err := url.ParseRequestURI(c.Bridge.URL); err != nil {
		return fmt.Errorf("bridge.url is invalid: %w", err)
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535, got %d", c.Bridge.Port)
	}
	if c.Bridge.DequeueMethod == "" {
		return fmt.Errorf("bridge.dequeue_method is required")
	}
	if c.Bridge.EnqueueMethod == "" {
		return fmt.Errorf("bridge.enqueue_method is required")
	}
	if _, err := time.ParseDuration(c.Bridge.Timeout); err != nil {
		return fmt.Errorf("invalid bridge timeout format: %w", err)
	}

	// Validate PDS config
	if _, err := time.ParseDuration(c.PDS.Timeout); err != nil {
		return fmt.Errorf("invalid pds timeout format: %w", err)
	}
	if !c.PDS.UseFake {
		if c.PDS.Host == "" {
			return fmt.Errorf("pds.host is required")
		}
		if !strings.HasPrefix(c.PDS.Path, "/") {
			return fmt.Errorf("pds.path must start with '/'")
		}
		hasPFX := c.PDS.PFXFile != ""
		hasPEM := c.PDS.CertFile != "" || c.PDS.KeyFile != ""
		if hasPFX && hasPEM {
			return fmt.Errorf("pds client certificate must be either pfx_file or cert_file/key_file, not both")
		}
		if !hasPFX && !hasPEM {
			return fmt.Errorf("pds.pfx_file or pds.cert_file/key_file is required")
		}
		if hasPEM && (c.PDS.CertFile == "" || c.PDS.KeyFile == "") {
			return fmt.Errorf("pds.cert_file and pds.key_file must be set together")
		}
	}

	if c.Dispatch.MaxInFlight < 0 {
		return fmt.Errorf("dispatch.max_in_flight cannot be negative")
	}
	if c.Dispatch.TraceHistory < 0 {
		return fmt.Errorf("dispatch.trace_history cannot be negative")
	}

	// Validate logging
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid logging level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console'")
	}

	return nil
}

// PollInterval returns the poll cadence as a time.Duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMs) * time.Millisecond
}

// GetBridgeTimeout returns the bridge timeout as a time.Duration
func (c *Config) GetBridgeTimeout() time.Duration {
	duration, _ := time.ParseDuration(c.Bridge.Timeout)
	return duration
}

// GetPDSTimeout returns the PDS timeout as a time.Duration
func (c *Config) GetPDSTimeout() time.Duration {
	duration, _ := time.ParseDuration(c.PDS.Timeout)
	return duration
}

// BridgeBaseURL returns "<url>:<port>/", the prefix every bridge method is appended to
func (c *Config) BridgeBaseURL() string {
	return fmt.Sprintf("%s:%d/", strings.TrimRight(c.Bridge.URL, "/"), c.Bridge.Port)
}
