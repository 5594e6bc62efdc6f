package types

import (
	"time"

	"github.com/google/uuid"
)

// EventID identifies one journal entry (a single lifecycle transition).
// UUIDv7 time-ordering keeps journal inserts clustered in B-tree pages.
type EventID string

// NewEventID generates a UUIDv7 event identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewEventID() EventID {
	return EventID(uuid.Must(uuid.NewV7()).String())
}

// ParseEventID validates and converts a string to EventID.
func ParseEventID(s string) (EventID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return EventID(s), nil
}

// EventIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func EventIDTime(id EventID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
