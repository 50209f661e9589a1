package calltracker

import (
	"context"

	"github.com/haukened/callguard/internal/guard/domain"
)

// Blocklist is the read path plus the counter the tracker bumps on a block.
type Blocklist interface {
	Decide(id string) domain.BlockDecision
	IncrementBlockedCall(id string) (domain.BlockedEntry, error)
}

// EventLog records call outcomes.
type EventLog interface {
	AppendCall(e domain.CallEvent) error
}

// Terminator ends a blocked call.
type Terminator interface {
	Terminate(ctx context.Context, s domain.CallSessionState) error
}
