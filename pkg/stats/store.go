package stats

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownEvent is returned when Update is called with an event value it
// does not recognize. No counter is modified in that case.
var ErrUnknownEvent = errors.New("unknown statistics event")

// Event identifies a connection lifecycle transition to record.
type Event int

// Connection lifecycle events.
const (
	// EventBadConnection records a connection whose request could not be read
	// or parsed.
	EventBadConnection Event = iota
	// EventOpen records a request admitted for handling. It moves both the
	// open-connection and total-request counters.
	EventOpen
	// EventClose records the end of a previously opened request.
	EventClose
	// EventRefuse records a connection turned away under load.
	EventRefuse
	// EventDeny records a connection rejected by the access policy.
	EventDeny
)

// String returns the event name for logging.
func (e Event) String() string {
	switch e {
	case EventBadConnection:
		return "badconnection"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventRefuse:
		return "refuse"
	case EventDeny:
		return "deny"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Counters is a point-in-time copy of the proxy's counters, taken atomically
// with respect to concurrent updates.
type Counters struct {
	Requests           uint64 `json:"requests"`
	BadConnections     uint64 `json:"badConnections"`
	OpenConnections    uint64 `json:"openConnections"`
	RefusedConnections uint64 `json:"refusedConnections"`
	DeniedConnections  uint64 `json:"deniedConnections"`
}

// Store holds the proxy's run-time counters. All five fields live under one
// mutex so cross-field updates (EventOpen) are atomic and snapshots are never
// torn. The zero value is ready to use.
//
// Decrementing OpenConnections below the number of prior opens is a caller
// contract violation; the store does not guard against it.
type Store struct {
	mu       sync.Mutex
	counters Counters
}

// NewStore returns a Store with all counters at zero.
func NewStore() *Store {
	return &Store{}
}

// Update records one lifecycle event. It returns ErrUnknownEvent for an
// unrecognized event value and leaves the counters untouched.
func (s *Store) Update(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e {
	case EventBadConnection:
		s.counters.BadConnections++
	case EventOpen:
		// One logical event: a new request opened a connection. Both fields
		// move under the same lock acquisition so no snapshot can observe
		// one without the other.
		s.counters.OpenConnections++
		s.counters.Requests++
	case EventClose:
		s.counters.OpenConnections--
	case EventRefuse:
		s.counters.RefusedConnections++
	case EventDeny:
		s.counters.DeniedConnections++
	default:
		return fmt.Errorf("%w: %d", ErrUnknownEvent, int(e))
	}
	return nil
}

// Snapshot returns a consistent copy of all counters.
func (s *Store) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}
