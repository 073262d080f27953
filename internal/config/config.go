// Package config loads handler configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrMissingEnv is returned when a required variable is unset.
var ErrMissingEnv = errors.New("missing required environment variable")

// Config holds the configuration shared by every handler.
type Config struct {
	// Storage
	DataTable string

	// Relay push endpoint (API Gateway management API)
	WSManagementEndpoint string

	// Admin
	AdminSecret string

	// Login with Amazon / Alexa
	AlexaClientID     string
	AlexaClientSecret string
	TestAlexaToken    string
	TokenURL          string
	ProfileURL        string
	EventGatewayURL   string

	// Connect authorizer
	RelayToken string

	// Reporter
	ReportFailureQueueURL string

	// Directive de-duplication window
	DedupWindow time.Duration

	// Soft-deleted devices are kept this long before ttl removal
	DeviceRetention time.Duration
}

// DefaultConfig returns a configuration with defaults for optional settings.
func DefaultConfig() *Config {
	return &Config{
		TokenURL:        "https://api.amazon.com/auth/o2/token",
		ProfileURL:      "https://api.amazon.com/user/profile",
		EventGatewayURL: "https://api.amazonalexa.com/v3/events",
		DedupWindow:     500 * time.Millisecond,
		DeviceRetention: 7 * 24 * time.Hour,
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	cfg.DataTable = os.Getenv("DATA_TABLE")
	if cfg.DataTable == "" {
		return nil, fmt.Errorf("%w: DATA_TABLE", ErrMissingEnv)
	}

	cfg.WSManagementEndpoint = os.Getenv("WS_MGMT_ENDPOINT")
	cfg.AdminSecret = os.Getenv("ADMIN_SECRET")
	cfg.AlexaClientID = os.Getenv("ALEXA_CLIENT_ID")
	cfg.AlexaClientSecret = os.Getenv("ALEXA_CLIENT_SECRET")
	cfg.TestAlexaToken = os.Getenv("TEST_ALEXA_TOKEN")
	cfg.RelayToken = os.Getenv("RELAY_TOKEN")
	cfg.ReportFailureQueueURL = os.Getenv("REPORT_FAILURE_QUEUE_URL")

	if v := os.Getenv("LWA_TOKEN_URL"); v != "" {
		cfg.TokenURL = v
	}

	if v := os.Getenv("LWA_PROFILE_URL"); v != "" {
		cfg.ProfileURL = v
	}

	if v := os.Getenv("ALEXA_EVENT_GATEWAY_URL"); v != "" {
		cfg.EventGatewayURL = v
	}

	if v := os.Getenv("DEDUP_WINDOW_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid DEDUP_WINDOW_MS: %q", v)
		}
		cfg.DedupWindow = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("DEVICE_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("invalid DEVICE_RETENTION_DAYS: %q", v)
		}
		cfg.DeviceRetention = time.Duration(days) * 24 * time.Hour
	}

	return cfg, nil
}
