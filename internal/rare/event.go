// Package rare propagates rare roll outcomes to every node: each event is
// presented once per node, announced at most once, and the latest one is
// replayed silently on startup.
package rare

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned for payloads missing required fields.
var ErrInvalidEvent = errors.New("invalid rare event")

// Event is the payload shared between nodes.
type Event struct {
	EventID         string  `json:"eventId"`
	ItemName        string  `json:"itemName"`
	DisplayName     string  `json:"displayName"`
	Rarity          string  `json:"rarity"`
	PullerName      string  `json:"pullerName"`
	OddsDenominator float64 `json:"oddsDenominator"`
	Timestamp       int64   `json:"timestamp"` // unix milliseconds
}

// NewEventID returns a fresh high-entropy event id.
func NewEventID() string {
	return uuid.NewString()
}

// Validate checks the fields every receiver relies on.
func (e Event) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: missing eventId", ErrInvalidEvent)
	case e.ItemName == "":
		return fmt.Errorf("%w: missing itemName", ErrInvalidEvent)
	case e.OddsDenominator < 0:
		return fmt.Errorf("%w: negative oddsDenominator", ErrInvalidEvent)
	}
	return nil
}

// Decode parses and validates a payload.
func Decode(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// DefaultSeenLimit is the size at which the seen set is cleared.
const DefaultSeenLimit = 1000

// SeenSet remembers processed event ids. It is cleared wholesale once it
// reaches its limit; ids are random enough that a late duplicate slipping
// through right after a clear is negligible.
type SeenSet struct {
	mu    sync.Mutex
	limit int
	ids   map[string]struct{}
}

func NewSeenSet(limit int) *SeenSet {
	if limit <= 0 {
		limit = DefaultSeenLimit
	}
	return &SeenSet{limit: limit, ids: make(map[string]struct{}, limit)}
}

// MarkSeen records id and reports whether it was new.
func (s *SeenSet) MarkSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.ids) >= s.limit {
		s.ids = make(map[string]struct{}, s.limit)
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *SeenSet) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
