// Package state holds the connection state of one provider and the two
// components that update it from remote input: ConfigSync for pushed
// snapshots and Reconciler for account lists.
package state

import (
	"sync"
)

// Publisher receives the events produced by state changes.
type Publisher interface {
	Emit(event string, args ...interface{}) bool
}

// State is the cached view of the remote wallet. Every update happens in a
// single critical section so readers never see selectedAddress disagree
// with accounts.
type State struct {
	mu sync.RWMutex

	connected      bool
	chainID        string
	hasChainID     bool
	networkVersion string
	hasNetwork     bool
	unlocked       bool
	accounts       []string
	selected       string
}

// New returns a disconnected state with nothing cached.
func New() *State {
	return &State{}
}

// IsConnected reports the lifecycle flag.
func (s *State) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// MarkConnected sets the connected flag and reports whether it changed.
func (s *State) MarkConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return false
	}
	s.connected = true
	return true
}

// MarkDisconnected clears the connected flag and reports whether it changed.
func (s *State) MarkDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false
	}
	s.connected = false
	return true
}

// ChainID returns the cached chain id; false until one has been received.
func (s *State) ChainID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID, s.hasChainID
}

// NetworkVersion returns the cached network version; false until one has been received.
func (s *State) NetworkVersion() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.networkVersion, s.hasNetwork
}

// IsUnlocked reports the cached unlock status.
func (s *State) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocked
}

// Accounts returns a copy of the cached accounts.
func (s *State) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// SelectedAddress returns the first account; false when there is none.
func (s *State) SelectedAddress() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, s.selected != ""
}
