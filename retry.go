package veld

import (
	"time"
)

// MetadataRetry is the invocation metadata key marking a call as
// retryable.
const MetadataRetry = "retry"

// RetrySettings configures the retry interceptor.
type RetrySettings struct {
	// MaxAttempts is the total number of attempts, including the
	// first call.
	MaxAttempts int

	// Delay is the pause between attempts.
	Delay time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	// Values at or below 1 keep the delay constant.
	BackoffMultiplier float64
}

// DefaultRetrySettings returns the settings used when no explicit
// retry configuration is supplied.
func DefaultRetrySettings() RetrySettings {
	return RetrySettings{MaxAttempts: 3, Delay: 100 * time.Millisecond, BackoffMultiplier: 1}
}

func (s RetrySettings) normalized() RetrySettings {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultRetrySettings().MaxAttempts
	}
	if s.BackoffMultiplier < 1 {
		s.BackoffMultiplier = 1
	}
	return s
}

// RetryInterceptor re-invokes a failing call up to the configured
// number of attempts. It composes with the circuit breaker: register
// it with a lower order so the circuit sits inside the retry loop and
// observes the outcome of every attempt.
type RetryInterceptor struct {
	settings RetrySettings
	logger   Logger
}

// NewRetryInterceptor creates a retry interceptor.
func NewRetryInterceptor(settings RetrySettings, logger Logger) *RetryInterceptor {
	return &RetryInterceptor{settings: settings.normalized(), logger: logger}
}

// Invoke implements Interceptor.
func (i *RetryInterceptor) Invoke(inv *Invocation) (any, error) {
	delay := i.settings.Delay

	var result any
	var err error
	for attempt := 1; attempt <= i.settings.MaxAttempts; attempt++ {
		result, err = inv.Proceed()
		if err == nil {
			return result, nil
		}
		if inv.Context().Err() != nil {
			// Cancelled callers do not get further attempts.
			return nil, err
		}
		if attempt < i.settings.MaxAttempts {
			i.logger.Debug("Retrying failed invocation", "method", inv.Method, "attempt", attempt, "error", err)
			if delay > 0 {
				time.Sleep(delay)
				delay = time.Duration(float64(delay) * i.settings.BackoffMultiplier)
			}
		}
	}
	return nil, err
}
