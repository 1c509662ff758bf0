package circuitbreaker

import "time"

// Config controls when a breaker trips and how it recovers.
type Config struct {
	// FailureThreshold is the number of consecutive counted failures that
	// opens a closed breaker.
	FailureThreshold int `json:"failure_threshold"`

	// SuccessThreshold is the number of consecutive successes in HALF_OPEN
	// needed to close the breaker again.
	SuccessThreshold int `json:"success_threshold"`

	// Timeout is how long the breaker stays OPEN before it lets a probe through.
	Timeout time.Duration `json:"timeout"`

	// MonitoringPeriod is carried for configuration compatibility. Failure
	// counting is not windowed: the count only resets on a success.
	MonitoringPeriod time.Duration `json:"monitoring_period"`

	// ExpectedErrors are substrings matched against an error's type name or
	// message. Matching errors propagate but are not counted as failures.
	ExpectedErrors []string `json:"expected_errors,omitempty"`
}

// DefaultConfig returns the settings used for services that have no explicit
// breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
		MonitoringPeriod: 60 * time.Second,
		ExpectedErrors:   []string{"TimeoutError", "NetworkError"},
	}
}

// Presets returns the breaker settings for well-known downstream dependencies.
func Presets() map[string]Config {
	return map[string]Config{
		"ollama-llm": {
			FailureThreshold: 3,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			MonitoringPeriod: 60 * time.Second,
			ExpectedErrors:   []string{"NetworkError", "TimeoutError"},
		},
		"database": {
			FailureThreshold: 5,
			SuccessThreshold: 3,
			Timeout:          15 * time.Second,
			MonitoringPeriod: 30 * time.Second,
			ExpectedErrors:   []string{"ConnectionTimeoutError"},
		},
		"external-api": {
			FailureThreshold: 4,
			SuccessThreshold: 2,
			Timeout:          20 * time.Second,
			MonitoringPeriod: 45 * time.Second,
			ExpectedErrors:   []string{"HTTPError"},
		},
		"email-service": {
			FailureThreshold: 3,
			SuccessThreshold: 2,
			Timeout:          10 * time.Second,
			MonitoringPeriod: 60 * time.Second,
			ExpectedErrors:   []string{"SMTPError"},
		},
	}
}

// normalize fills zero values so a partially specified Config still yields a
// working breaker.
func (c Config) normalize() Config {
	def := DefaultConfig()

	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if len(c.ExpectedErrors) > 0 {
		c.ExpectedErrors = append([]string(nil), c.ExpectedErrors...)
	}

	return c
}
