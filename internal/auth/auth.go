// Package auth loads the token store and resolves client identities.
//
// Tokens live in a YAML file mapping each token to a client name, an admin
// flag, and a revocation flag. Connections from the loopback interface skip
// the store entirely and receive a synthesized admin identity.
package auth

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrInvalidToken is returned by Authenticate for unknown or revoked tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the resolved client identity for a connection.
type Identity struct {
	ClientName string `yaml:"client_name"`
	IsAdmin    bool   `yaml:"is_admin"`
	Revoked    bool   `yaml:"revoked"`
}

// Store resolves tokens to identities. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

// NewStore creates an empty store that rejects every token.
func NewStore() *Store {
	return &Store{tokens: map[string]Identity{}}
}

// LoadStore reads the token file at path.
func LoadStore(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read tokens file %q: %w", path, err)
	}
	tokens := map[string]Identity{}
	if err := yaml.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("auth: parse tokens file %q: %w", path, err)
	}
	return &Store{tokens: tokens}, nil
}

// Add binds token to identity, replacing any previous binding.
func (s *Store) Add(token string, id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = id
}

// Lookup returns the identity bound to token. Revoked tokens are reported
// as present so callers can distinguish revocation from absence.
func (s *Store) Lookup(token string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[token]
	return id, ok
}

// Authenticate resolves token to a usable identity, rejecting unknown and
// revoked tokens alike.
func (s *Store) Authenticate(token string) (Identity, error) {
	id, ok := s.Lookup(token)
	if !ok || id.Revoked {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// LocalhostIdentity is the synthesized admin identity for loopback clients.
func LocalhostIdentity() Identity {
	return Identity{ClientName: "localhost", IsAdmin: true}
}

// IsLocalhost reports whether remoteAddr (host:port or bare host) is a
// loopback address.
func IsLocalhost(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
