package reliability

import (
	"context"
	"net/http"
	"time"
)

// IsRetryableHTTPStatus reports whether an upstream answered with a status
// that may clear on its own: throttling or a transient server fault.
func IsRetryableHTTPStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		(code >= http.StatusBadGateway && code <= http.StatusGatewayTimeout)
}

var retryableStreamErrors = map[string]bool{
	"rate_limited":       true,
	"resource_exhausted": true,
	"queue_overflow":     true,
	"error":              true,
}

// IsRetryableRealtimeMessageType classifies the message_type of a websocket
// error frame.
func IsRetryableRealtimeMessageType(messageType string) bool {
	return retryableStreamErrors[messageType]
}

// ExponentialBackoff doubles base once per prior attempt, never exceeding cap.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for ; attempt > 0 && d < cap; attempt-- {
		d *= 2
	}
	return min(d, cap)
}

// Retry calls fn up to attempts times, sleeping with capped exponential
// backoff between calls. fn reports whether its error is worth retrying;
// the last error is returned when attempts run out or fn declines a retry.
func Retry(ctx context.Context, attempts int, base, cap time.Duration, fn func() (retry bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(ExponentialBackoff(attempt-1, base, cap))
			select {
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return lastErr
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
		retry, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}
