package domain

import (
	"fmt"
	"time"
)

// BlockedEntry is a single blocked sender in the blocklist.
//
// Notes:
//   - Identifier is expected to be normalized (see common/phone) and is the unique key.
//   - Row is assigned by the store on first insert and never reused; it defines insertion order.
//   - BlockedCalls and BlockedMessages only ever grow.
type BlockedEntry struct {
	Row             uint64    `json:"row"`
	Identifier      string    `json:"identifier"`
	DisplayName     string    `json:"displayName,omitempty"`
	DateAdded       time.Time `json:"dateAdded"`
	BlockedCalls    uint64    `json:"blockedCalls"`
	BlockedMessages uint64    `json:"blockedMessages"`
}

// NewBlockedEntry constructs a fresh entry with zeroed counters and validates it.
func NewBlockedEntry(identifier, displayName string, addedAt time.Time) (BlockedEntry, error) {
	e := BlockedEntry{
		Identifier:  identifier,
		DisplayName: displayName,
		DateAdded:   addedAt,
	}
	if err := e.Validate(); err != nil {
		return BlockedEntry{}, err
	}
	return e, nil
}

// Validate checks the entry for required fields.
func (e BlockedEntry) Validate() error {
	if e.Identifier == "" {
		return fmt.Errorf("%w: identifier must not be empty", ErrInvalidIdentifier)
	}
	if e.DateAdded.IsZero() {
		return fmt.Errorf("entry dateAdded must be set")
	}
	return nil
}

// Rename returns a copy with DisplayName replaced when name is non-empty.
// Counters, DateAdded and Row are preserved.
func (e BlockedEntry) Rename(name string) BlockedEntry {
	if name != "" {
		e.DisplayName = name
	}
	return e
}
