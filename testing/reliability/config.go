package reliability

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ReliabilityConfig holds configuration for reliability testing, read from
// TAPEZ_RELIABILITY_* environment variables.
type ReliabilityConfig struct {
	// Level is "basic" or "stress". Reliability tests skip when it is empty.
	Level string `envconfig:"LEVEL"`
	// Duration bounds the sustained stress tests.
	Duration time.Duration `envconfig:"DURATION" default:"30s"`
	// MaxGoroutines caps the recording goroutines of concurrent tests.
	MaxGoroutines int `envconfig:"MAX_GOROUTINES" default:"100"`
	// PayloadBytes is the event message size used to fill batches quickly.
	PayloadBytes int `envconfig:"PAYLOAD_BYTES" default:"200"`
}

// getReliabilityConfig reads configuration from the environment.
func getReliabilityConfig(t *testing.T) ReliabilityConfig {
	t.Helper()
	var cfg ReliabilityConfig
	if err := envconfig.Process("tapez_reliability", &cfg); err != nil {
		t.Fatalf("reliability config: %v", err)
	}
	return cfg
}

type reliabilityTest struct {
	name string
	fn   func(*testing.T, ReliabilityConfig)
}

// runLevel runs the subtests of the configured level and skips when no level
// is set.
func runLevel(t *testing.T, basic, stress []reliabilityTest) {
	cfg := getReliabilityConfig(t)
	var tests []reliabilityTest
	switch cfg.Level {
	case "basic":
		tests = basic
	case "stress":
		tests = stress
	default:
		t.Skip("TAPEZ_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) { tc.fn(t, cfg) })
	}
}
