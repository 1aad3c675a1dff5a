package utility

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// stateTTL bounds how long an issued OAuth state token stays redeemable.
const stateTTL = 600 * time.Second

// stateNow is indirected for tests.
var stateNow = time.Now

// StateStore issues and redeems single-use CSRF state tokens for the Slack
// install flow. Tokens live in process memory, which is only correct for a
// single-instance deployment; a multi-instance setup needs a shared TTL store.
type StateStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewStateStore() *StateStore {
	return &StateStore{tokens: make(map[string]time.Time)}
}

// Issue generates a URL-safe random token and records its issue time.
func (s *StateStore) Issue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	s.mu.Lock()
	s.tokens[token] = stateNow()
	s.mu.Unlock()
	return token, nil
}

// Redeem atomically removes the token and reports whether it was present and
// younger than the TTL. A second redemption of the same token always fails,
// including immediately after a successful one.
func (s *StateStore) Redeem(token string) bool {
	s.mu.Lock()
	issued, ok := s.tokens[token]
	if ok {
		delete(s.tokens, token)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	return stateNow().Sub(issued) < stateTTL
}
