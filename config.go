package veld

import (
	"fmt"
	"time"
)

// ContainerConfig carries the tunable settings of the container: the
// resilience defaults applied to circuits and bulkheads created
// without per-name configuration, and the shared worker pool sizing.
type ContainerConfig struct {
	Resilience ResilienceConfig `yaml:"resilience" toml:"resilience" env:"RESILIENCE"`
	Async      AsyncConfig      `yaml:"async" toml:"async" env:"ASYNC"`
}

// ResilienceConfig groups the default settings of the resilience
// interceptors.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" toml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
	Bulkhead       BulkheadConfig       `yaml:"bulkhead" toml:"bulkhead" env:"BULKHEAD"`
	Timeout        time.Duration        `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	Retry          RetryConfig          `yaml:"retry" toml:"retry" env:"RETRY"`
}

// CircuitBreakerConfig mirrors CircuitBreakerSettings in a
// feeder-friendly shape.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold" toml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	SuccessThreshold int           `yaml:"successThreshold" toml:"success_threshold" env:"SUCCESS_THRESHOLD"`
	ResetTimeout     time.Duration `yaml:"resetTimeout" toml:"reset_timeout" env:"RESET_TIMEOUT"`
	WindowSize       int           `yaml:"windowSize" toml:"window_size" env:"WINDOW_SIZE"`
}

// BulkheadConfig mirrors BulkheadSettings in a feeder-friendly shape.
type BulkheadConfig struct {
	MaxConcurrent int64         `yaml:"maxConcurrent" toml:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxWait       time.Duration `yaml:"maxWait" toml:"max_wait" env:"MAX_WAIT"`
}

// RetryConfig mirrors RetrySettings in a feeder-friendly shape.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"maxAttempts" toml:"max_attempts" env:"MAX_ATTEMPTS"`
	Delay             time.Duration `yaml:"delay" toml:"delay" env:"DELAY"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier" toml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
}

// AsyncConfig sizes the shared worker pool used for asynchronous
// dispatch and timeout-guarded calls.
type AsyncConfig struct {
	Workers   int `yaml:"workers" toml:"workers" env:"WORKERS"`
	QueueSize int `yaml:"queueSize" toml:"queue_size" env:"QUEUE_SIZE"`
}

// DefaultContainerConfig returns the configuration used when no
// feeders are applied.
func DefaultContainerConfig() *ContainerConfig {
	return &ContainerConfig{
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				ResetTimeout:     10 * time.Second,
				WindowSize:       10,
			},
			Bulkhead: BulkheadConfig{MaxConcurrent: 25},
			Timeout:  5 * time.Second,
			Retry:    RetryConfig{MaxAttempts: 3, Delay: 100 * time.Millisecond, BackoffMultiplier: 1},
		},
		Async: AsyncConfig{Workers: 4, QueueSize: 64},
	}
}

// ConfigFeeder populates a configuration struct from one source.
// Feeders are applied in order; later feeders override earlier ones.
type ConfigFeeder interface {
	Feed(target any) error
}

// LoadContainerConfig applies the given feeders over the defaults.
func LoadContainerConfig(feeders ...ConfigFeeder) (*ContainerConfig, error) {
	cfg := DefaultContainerConfig()
	for _, f := range feeders {
		if err := f.Feed(cfg); err != nil {
			return nil, fmt.Errorf("config feeder failed: %w", err)
		}
	}
	return cfg, nil
}

// circuitBreakerSettings converts the config shape to runtime settings.
func (c CircuitBreakerConfig) settings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		ResetTimeout:     c.ResetTimeout,
		WindowSize:       c.WindowSize,
	}
}

func (c BulkheadConfig) settings() BulkheadSettings {
	return BulkheadSettings{MaxConcurrent: c.MaxConcurrent, MaxWait: c.MaxWait}
}

func (c RetryConfig) settings() RetrySettings {
	return RetrySettings{MaxAttempts: c.MaxAttempts, Delay: c.Delay, BackoffMultiplier: c.BackoffMultiplier}
}
