package settlement

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the settlement pipeline
var (
	// ErrCycleInProgress is returned when a cycle is requested while
	// another is still running
	ErrCycleInProgress = errors.New("settlement cycle already in progress")

	// ErrAPIDisabled is returned when the exchange account has trading
	// or withdrawal permissions revoked
	ErrAPIDisabled = errors.New("exchange API access is disabled")

	// ErrInsufficientBalance is returned when a transfer would exceed
	// the available balance after reserves
	ErrInsufficientBalance = errors.New("insufficient balance for transfer")

	// ErrBreakerOpen is returned when the endpoint circuit breaker is
	// refusing calls
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// TransferError wraps a failure with enough context to report and
// classify it
type TransferError struct {
	CycleID   string
	ChainKey  string
	Asset     string
	Kind      string
	Phase     string // plan, submit, verify, persist
	Err       error
	Timestamp time.Time
	Retryable bool
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s/%s phase %s: %v", e.Kind, e.ChainKey, e.Asset, e.Phase, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ErrorClassifier classifies errors as retryable or terminal
type ErrorClassifier struct{}

// IsRetryable determines if an error should trigger a retry. Rate
// limits, timeouts and connectivity failures are transient; rejections
// and validation failures are not.
func (c *ErrorClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAPIDisabled) || errors.Is(err, ErrInsufficientBalance) {
		return false
	}
	if errors.Is(err, ErrBreakerOpen) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"rate limit",
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"temporary failure",
		"service unavailable",
		"gateway timeout",
		"too many requests",
		"429",
		"502",
		"503",
		"504",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	// Database contention comes back retryable too
	dbRetryablePatterns := []string{
		"deadlock",
		"lock timeout",
		"serialization failure",
	}
	for _, pattern := range dbRetryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IdentifyPhase attributes an error to a pipeline phase from its message
func (c *ErrorClassifier) IdentifyPhase(err error) string {
	if err == nil {
		return "unknown"
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "balance") || strings.Contains(errStr, "plan") {
		return "plan"
	}
	if strings.Contains(errStr, "withdraw") || strings.Contains(errStr, "deposit address") || strings.Contains(errStr, "transfer") {
		return "submit"
	}
	if strings.Contains(errStr, "confirm") || strings.Contains(errStr, "verif") || strings.Contains(errStr, "match") {
		return "verify"
	}
	if strings.Contains(errStr, "save") || strings.Contains(errStr, "store") || strings.Contains(errStr, "database") {
		return "persist"
	}

	return "unknown"
}
