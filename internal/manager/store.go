package manager

import "sync"

// RuntimeConfig is the read-only view handed out to tool handlers for
// each unit of work. It is replaced wholesale on publish, never
// mutated, so a snapshot can never mix old and new fields.
type RuntimeConfig struct {
	ServiceURL string
	Secret     string
	Insecure   bool
}

// Store owns the current runtime configuration behind one mutex. It is
// the single synchronization point between the reload path and
// concurrent readers; readers contend only with the brief swap in
// publish, never with a reload's network calls.
type Store struct {
	mu        sync.Mutex
	runtime   RuntimeConfig
	authToken string
}

// Snapshot returns a copy of the current runtime configuration.
func (s *Store) Snapshot() RuntimeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runtime
}

// AuthToken returns the configured MCP bearer token (or bcrypt hash).
func (s *Store) AuthToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.authToken
}

// publish atomically replaces the runtime view.
func (s *Store) publish(rc RuntimeConfig, authToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runtime = rc
	s.authToken = authToken
}
