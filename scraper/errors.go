package scraper

import (
	"errors"
	"fmt"
	"time"
)

// ParseError marks a single malformed item. The item is skipped and the
// error reported in the run's error list; it never aborts a crawl.
type ParseError struct {
	SourceID string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.SourceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.SourceID, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchError covers a failed page or dataset fetch. Transient failures
// (timeouts, 5xx) abort the remaining pagination of the current run only and
// are retried on the next scheduled cycle.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RateLimitError is transient but additionally tells the scheduler to extend
// the source's effective delay before its next attempt.
type RateLimitError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s", e.URL)
}

// ConfigurationError means the source definition itself is unusable. Fatal:
// the run aborts before any store mutation.
type ConfigurationError struct {
	SourceID string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("source %s misconfigured: %s", e.SourceID, e.Reason)
}

// AuthenticationError means credentials are missing or rejected. Fatal.
type AuthenticationError struct {
	SourceID string
	Reason   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("source %s auth: %s", e.SourceID, e.Reason)
}

// SourceNotFoundError is returned when a crawl names an unknown source.
type SourceNotFoundError struct {
	SourceID string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source not found: %s", e.SourceID)
}

// IsFatal reports whether err must abort the run with nothing persisted, as
// opposed to transient fetch trouble that only truncates it.
func IsFatal(err error) bool {
	var cfgErr *ConfigurationError
	var authErr *AuthenticationError
	var nfErr *SourceNotFoundError
	if errors.As(err, &cfgErr) || errors.As(err, &authErr) || errors.As(err, &nfErr) {
		return true
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return !fetchErr.Transient
	}
	return false
}

// IsRateLimited reports whether err carries a rate-limit signal.
func IsRateLimited(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr)
}
