package resilience

import "time"

// Breaker defaults.
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Remote scoring sits on the per-frame path, so it gives up sooner and
	// probes again sooner.
	ScorerThreshold         = 3
	ScorerResetTimeout      = 5 * time.Second
	ScorerHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string        // label used in logs and metrics
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns general-purpose defaults.
func DefaultConfig() Config {
	return Config{
		Name:              "default",
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// ScorerConfig returns settings for the remote inference scorer.
func ScorerConfig() Config {
	return Config{
		Name:              "scorer",
		Threshold:         ScorerThreshold,
		ResetTimeout:      ScorerResetTimeout,
		HalfOpenSuccesses: ScorerHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
