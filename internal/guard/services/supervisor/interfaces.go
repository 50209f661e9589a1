package supervisor

import (
	"context"
	"errors"

	"github.com/haukened/callguard/internal/guard/domain"
)

// ErrNotRegistered is returned by an EventSource asked to remove a listener
// it does not have. Stop tolerates it.
var ErrNotRegistered = errors.New("listener not registered")

// CallListener receives line-state and outgoing-call notifications.
type CallListener interface {
	HandleLineState(ctx context.Context, phase domain.LinePhase, identifier string) error
	HandleOutgoing(ctx context.Context, identifier string) (bool, error)
}

// MessageListener receives inbound SMS deliveries as hex PDUs.
type MessageListener interface {
	HandlePDUs(ctx context.Context, hexPDUs []string) (bool, error)
}

// EventSource is the platform side that delivers notifications.
type EventSource interface {
	RegisterCallListener(l CallListener) error
	UnregisterCallListener() error
	RegisterMessageListener(l MessageListener) error
	UnregisterMessageListener() error
}

// Indicator is the persistent, user-visible sign that interception is active.
type Indicator interface {
	Show() error
	Hide() error
}

// Tracker is the part of the call tracker the supervisor manages.
type Tracker interface {
	CallListener
	Reset()
}

// Blocklist is the part of the blocklist refreshed on start.
type Blocklist interface {
	Rebuild() error
}
