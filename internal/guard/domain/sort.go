package domain

import (
	"fmt"
	"strings"
)

// SortOrder selects how blocklist listings are ordered.
type SortOrder uint8

const (
	SortInsertion SortOrder = iota
	SortIdentifier
	SortDateAdded
	SortBlockedCalls
	SortBlockedMessages
)

// ParseSortOrder accepts the control surface's sort names. Empty means insertion order.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "insertion", "row":
		return SortInsertion, nil
	case "identifier", "number":
		return SortIdentifier, nil
	case "date_added":
		return SortDateAdded, nil
	case "blocked_calls":
		return SortBlockedCalls, nil
	case "blocked_messages", "blocked_sms":
		return SortBlockedMessages, nil
	default:
		return 0, fmt.Errorf("unsupported sort order: %q", s)
	}
}
