package auth

import (
	"errors"
	"testing"
	"time"
)

// TestIssueAndValidateToken verifies a freshly issued token round-trips
// its operator claims.
func TestIssueAndValidateToken(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour)

	token, err := manager.IssueToken(OperatorClaims{Operator: "ops", ReadOnly: true})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Operator != "ops" {
		t.Errorf("Expected operator 'ops', got %q", claims.Operator)
	}
	if !claims.ReadOnly {
		t.Error("Expected read-only flag to survive the round trip")
	}
}

// TestExpiredTokenRejected verifies an expired token maps to ErrTokenExpired.
func TestExpiredTokenRejected(t *testing.T) {
	manager := NewJWTManager("secret", -time.Minute)

	token, err := manager.IssueToken(OperatorClaims{Operator: "ops"})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := manager.ValidateToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

// TestWrongSecretRejected verifies tokens signed with a different secret
// are invalid.
func TestWrongSecretRejected(t *testing.T) {
	issuer := NewJWTManager("secret-a", time.Hour)
	validator := NewJWTManager("secret-b", time.Hour)

	token, err := issuer.IssueToken(OperatorClaims{Operator: "ops"})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}
