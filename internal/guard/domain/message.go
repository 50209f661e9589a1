package domain

import "time"

// MessageEvent is the outcome of intercepting one inbound message fragment.
type MessageEvent struct {
	Identifier string    `json:"identifier"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
	Delivered  bool      `json:"delivered"`
}

// InboundMessage is a decoded message fragment, before classification.
type InboundMessage struct {
	Identifier string
	Body       string
	// Concat is non-nil when the fragment carries a concatenation header.
	Concat *ConcatRef
}

// ConcatRef identifies a fragment within a multi-part message.
type ConcatRef struct {
	Reference uint16
	Total     uint8
	Sequence  uint8
}
