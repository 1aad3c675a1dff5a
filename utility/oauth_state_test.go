package utility

import (
	"testing"
	"time"
)

func TestStateStore_SingleUse(t *testing.T) {
	s := NewStateStore()
	token, err := s.Issue()
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if !s.Redeem(token) {
		t.Fatalf("expected first redemption to succeed")
	}
	if s.Redeem(token) {
		t.Fatalf("expected second redemption of the same token to fail")
	}
}

func TestStateStore_UnknownToken(t *testing.T) {
	s := NewStateStore()
	if s.Redeem("never-issued") {
		t.Fatalf("expected unknown token to fail")
	}
}

func TestStateStore_Expiry(t *testing.T) {
	s := NewStateStore()
	issuedAt := time.Now()
	stateNow = func() time.Time { return issuedAt }
	defer func() { stateNow = time.Now }()
	token, err := s.Issue()
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	// 601 seconds later the token is expired even though it was never used.
	stateNow = func() time.Time { return issuedAt.Add(601 * time.Second) }
	if s.Redeem(token) {
		t.Fatalf("expected redemption at T+601s to fail")
	}
	// Expired redemption still consumed the token.
	if s.Redeem(token) {
		t.Fatalf("expected token to be gone after expired redemption")
	}
}

func TestStateStore_TokensAreUnique(t *testing.T) {
	s := NewStateStore()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := s.Issue()
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token issued: %q", token)
		}
		seen[token] = true
	}
}
