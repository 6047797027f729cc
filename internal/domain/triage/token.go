package triage

import (
	"fmt"
	"sync"
)

// TokenIssuer hands out queue tokens: a prefix followed by a zero-padded
// sequence number. Tokens reported in use are skipped.
type TokenIssuer struct {
	mu     sync.Mutex
	prefix string
	seq    int
	inUse  func(token string) bool
}

// NewTokenIssuer creates an issuer. inUse may be nil.
func NewTokenIssuer(prefix string, inUse func(string) bool) *TokenIssuer {
	if prefix == "" {
		prefix = "B"
	}
	if inUse == nil {
		inUse = func(string) bool { return false }
	}
	return &TokenIssuer{prefix: prefix, inUse: inUse}
}

// Next returns the next free token.
func (t *TokenIssuer) Next() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		t.seq++
		token := fmt.Sprintf("%s%04d", t.prefix, t.seq)
		if !t.inUse(token) {
			return token
		}
	}
}
