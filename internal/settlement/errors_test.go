package settlement

import (
	"errors"
	"fmt"
	"testing"
)

// TestClassifierRetryable verifies transient failures are retried and
// permanent ones are not
func TestClassifierRetryable(t *testing.T) {
	c := &ErrorClassifier{}

	retryable := []error{
		errors.New("429 too many requests"),
		errors.New("request timed out"),
		errors.New("connection refused"),
		errors.New("503 service unavailable"),
		errors.New("deadlock detected"),
		fmt.Errorf("calling exchange: %w", ErrBreakerOpen),
	}
	for _, err := range retryable {
		if !c.IsRetryable(err) {
			t.Errorf("expected %q to be retryable", err)
		}
	}

	terminal := []error{
		nil,
		ErrAPIDisabled,
		ErrInsufficientBalance,
		errors.New("invalid address checksum"),
	}
	for _, err := range terminal {
		if c.IsRetryable(err) {
			t.Errorf("expected %q to be terminal", err)
		}
	}
}

// TestTransferErrorUnwrap verifies sentinel errors survive wrapping
func TestTransferErrorUnwrap(t *testing.T) {
	err := &TransferError{
		ChainKey: "BTC",
		Asset:    "BTC",
		Kind:     KindDeposit,
		Phase:    "submit",
		Err:      fmt.Errorf("requesting payout: %w", ErrAPIDisabled),
	}
	if !errors.Is(err, ErrAPIDisabled) {
		t.Error("expected wrapped sentinel to be detectable")
	}
}

// TestTerminalState verifies exactly the four terminal states qualify
func TestTerminalState(t *testing.T) {
	for _, state := range []string{StateMatched, StateAmountMismatch, StateNotFound, StateTimedOut} {
		if !TerminalState(state) {
			t.Errorf("expected %s to be terminal", state)
		}
	}
	for _, state := range []string{StateSubmitted, StateConfirming, ""} {
		if TerminalState(state) {
			t.Errorf("expected %s to be non-terminal", state)
		}
	}
}
