package llm

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	maxJitter            = 1500 * time.Millisecond
	serverBackoffCap     = 60 * time.Second
	genericBackoffCap    = 30 * time.Second
	unparsableRetryAfter = 30 * time.Second
)

const (
	reasonQuota     = "quota_exhausted"
	reasonAuth      = "unauthorized"
	reasonClient    = "client_error"
	reasonRateLimit = "rate_limited"
	reasonServer    = "server_error"
	reasonTimeout   = "timeout"
	reasonOther     = "transient"
)

// StatusError describes a non-2xx response from the provider.
type StatusError struct {
	StatusCode int
	Code       string
	Body       string
	// RetryAfter is the delay the server asked for; valid only when
	// HasRetryAfter is true.
	RetryAfter    time.Duration
	HasRetryAfter bool
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("llm request: http %d (%s): %s", e.StatusCode, e.Code, summarizePayloadSnippet(e.Body))
	}
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, summarizePayloadSnippet(e.Body))
}

// QuotaExhausted reports whether the error names an exhausted account quota.
// Only explicit codes count. A Gemini RESOURCE_EXHAUSTED response is per-minute
// throttling when the server supplies a retry delay, and quota exhaustion only
// when it does not.
func (e *StatusError) QuotaExhausted() bool {
	code := strings.ToLower(e.Code)
	if strings.Contains(code, "insufficient_quota") {
		return true
	}
	if e.HasRetryAfter {
		return false
	}
	return code == "resource_exhausted" && strings.Contains(strings.ToLower(e.Body), "quota")
}

type retryDecision struct {
	retry  bool
	delay  time.Duration
	reason string
}

// classify applies the failure policy to err. attempt is zero-based.
func classify(err error, attempt int, jitter func() time.Duration) retryDecision {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			if statusErr.QuotaExhausted() {
				return retryDecision{reason: reasonQuota}
			}
			if statusErr.HasRetryAfter {
				return retryDecision{retry: true, delay: statusErr.RetryAfter, reason: reasonRateLimit}
			}
			return retryDecision{retry: true, delay: backoff(attempt, serverBackoffCap, jitter), reason: reasonRateLimit}
		case statusErr.StatusCode == http.StatusUnauthorized, statusErr.StatusCode == http.StatusForbidden:
			return retryDecision{reason: reasonAuth}
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return retryDecision{retry: true, delay: backoff(attempt, serverBackoffCap, jitter), reason: reasonServer}
		case statusErr.StatusCode >= http.StatusBadRequest:
			return retryDecision{reason: reasonClient}
		}
	}
	if isTimeout(err) {
		return retryDecision{retry: true, delay: backoff(attempt, serverBackoffCap, jitter), reason: reasonTimeout}
	}
	return retryDecision{retry: true, delay: backoff(attempt, genericBackoffCap, jitter), reason: reasonOther}
}

// backoff returns min(limit, 2^attempt seconds) plus jitter.
func backoff(attempt int, limit time.Duration, jitter func() time.Duration) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt)) * float64(time.Second))
	if base > limit || base <= 0 {
		base = limit
	}
	if jitter != nil {
		base += jitter()
	}
	return base
}

func isTimeout(err error) bool {
	if errors.Is(err, errAttemptDeadline) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

// errAttemptDeadline is reported by transports when the per-attempt deadline
// fired while the caller's context is still live.
var errAttemptDeadline = errors.New("llm request: attempt deadline exceeded")

// parseRetryAfter accepts delta-seconds (integer or fractional) or an HTTP date.
// A present but unreadable value maps to a fixed 30s wait.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds < 0 {
			return 0, true
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	return unparsableRetryAfter, true
}
