package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome is the classified result of a call.
type Outcome uint8

const (
	OutcomeBlocked Outcome = iota + 1
	OutcomeAnswered
	OutcomeMissed
	OutcomeOutgoing
)

// String returns the persisted representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeBlocked:
		return "BLOCKED"
	case OutcomeAnswered:
		return "ANSWERED"
	case OutcomeMissed:
		return "MISSED"
	case OutcomeOutgoing:
		return "OUTGOING"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

// ParseOutcome converts a persisted outcome string back into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BLOCKED":
		return OutcomeBlocked, nil
	case "ANSWERED":
		return OutcomeAnswered, nil
	case "MISSED":
		return OutcomeMissed, nil
	case "OUTGOING":
		return OutcomeOutgoing, nil
	default:
		return 0, fmt.Errorf("unsupported outcome: %q", s)
	}
}

// Direction tells whether a call was placed or received.
type Direction uint8

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	if d == DirectionOutgoing {
		return "out"
	}
	return "in"
}

// ParseDirection accepts "in" and "out"; anything else is incoming.
func ParseDirection(s string) Direction {
	if s == "out" {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

// CallEvent is one classified outcome of a phone line transition.
// Created only by the call tracker and the screening adapter; immutable.
type CallEvent struct {
	Identifier string    `json:"identifier"`
	Outcome    Outcome   `json:"-"`
	Direction  Direction `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewCallEvent builds an incoming-direction call event.
func NewCallEvent(id string, outcome Outcome, at time.Time) CallEvent {
	return CallEvent{Identifier: id, Outcome: outcome, Direction: DirectionIncoming, Timestamp: at}
}

// LinePhase is the phone line state as reported by the platform.
type LinePhase uint8

const (
	PhaseIdle LinePhase = iota
	PhaseRinging
	PhaseOffhook
)

func (p LinePhase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseRinging:
		return "RINGING"
	case PhaseOffhook:
		return "OFFHOOK"
	default:
		return fmt.Sprintf("LinePhase(%d)", p)
	}
}

// ParseLinePhase converts the platform's state name into a LinePhase.
func ParseLinePhase(s string) (LinePhase, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IDLE":
		return PhaseIdle, nil
	case "RINGING":
		return PhaseRinging, nil
	case "OFFHOOK":
		return PhaseOffhook, nil
	default:
		return 0, fmt.Errorf("unsupported line phase: %q", s)
	}
}

// CallSessionState is the transient state of the (single) tracked call.
// It is never persisted; a restart loses it.
type CallSessionState struct {
	SessionID    uuid.UUID
	ActiveNumber string
	Phase        LinePhase
	// Blocked suppresses ANSWERED/MISSED classification for this session.
	Blocked bool
}

// Active reports whether an incoming call session is in progress.
func (s CallSessionState) Active() bool { return s.SessionID != uuid.Nil }

// IdleSession returns the zero session.
func IdleSession() CallSessionState { return CallSessionState{Phase: PhaseIdle} }
