// Package config handles environment variable loading for endpoints, tokens, etc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Base URL of the remote execution service
	WorkspaceURL string

	// API token used for authentication against the remote services
	Token string

	// Execution context to attach commands to
	ContextID string

	// Base URL of the artifact store (defaults to WorkspaceURL)
	ArtifactStoreURL string

	// HTTP timeout for individual remote calls
	HTTPTimeout time.Duration

	// Interval between command status polls
	PollInterval time.Duration

	// OTLP collector address for tracing ("" disables tracing)
	OTELEndpoint string

	// Port for the in-run /metrics listener (0 disables it)
	MetricsPort int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	workspaceURL := os.Getenv("TASKDOCK_WORKSPACE_URL")
	if workspaceURL == "" {
		return nil, fmt.Errorf("TASKDOCK_WORKSPACE_URL is required")
	}

	token := os.Getenv("TASKDOCK_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TASKDOCK_TOKEN is required")
	}

	contextID := os.Getenv("TASKDOCK_CONTEXT_ID")
	if contextID == "" {
		return nil, fmt.Errorf("TASKDOCK_CONTEXT_ID is required")
	}

	storeURL := os.Getenv("TASKDOCK_ARTIFACT_STORE_URL")
	if storeURL == "" {
		storeURL = workspaceURL
	}

	timeout := 30 * time.Second
	if timeoutStr := os.Getenv("TASKDOCK_HTTP_TIMEOUT"); timeoutStr != "" {
		t, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid TASKDOCK_HTTP_TIMEOUT: %w", err)
		}
		timeout = t
	}

	pollInterval := 1 * time.Second
	if pollStr := os.Getenv("TASKDOCK_POLL_INTERVAL"); pollStr != "" {
		pi, err := time.ParseDuration(pollStr)
		if err != nil {
			return nil, fmt.Errorf("invalid TASKDOCK_POLL_INTERVAL: %w", err)
		}
		pollInterval = pi
	}

	metricsPort := 0
	if portStr := os.Getenv("TASKDOCK_METRICS_PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid TASKDOCK_METRICS_PORT: %w", err)
		}
		metricsPort = p
	}

	return &Config{
		WorkspaceURL:     workspaceURL,
		Token:            token,
		ContextID:        contextID,
		ArtifactStoreURL: storeURL,
		HTTPTimeout:      timeout,
		PollInterval:     pollInterval,
		OTELEndpoint:     os.Getenv("TASKDOCK_OTEL_ENDPOINT"),
		MetricsPort:      metricsPort,
	}, nil
}
