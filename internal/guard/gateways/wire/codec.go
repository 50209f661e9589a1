// Package wire encodes and decodes the line-oriented text protocol spoken
// with the platform bridge.
//
// Inbound datagrams:
//
//	STATE <RINGING|OFFHOOK|IDLE> [identifier]
//	OUTGOING <identifier>
//	SMS <hexpdu> [<hexpdu>...]
//	SCREEN <handle>
//
// Replies are a single verdict word. Commands sent to the bridge use the
// same framing, e.g. "HANGUP <session> <identifier>".
package wire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/haukened/callguard/internal/guard/domain"
)

// Kind identifies the inbound event type.
type Kind uint8

const (
	KindState Kind = iota + 1
	KindOutgoing
	KindSMS
	KindScreen
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "STATE"
	case KindOutgoing:
		return "OUTGOING"
	case KindSMS:
		return "SMS"
	case KindScreen:
		return "SCREEN"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Event is a decoded bridge datagram. Only the fields relevant to Kind are set.
type Event struct {
	Kind       Kind
	Phase      domain.LinePhase
	Identifier string
	// PDUs holds the hex-encoded SMS-DELIVER fragments, in order.
	PDUs   []string
	Handle string
}

// Verdict is the reply word sent back for events that expect one.
type Verdict string

const (
	VerdictAllow   Verdict = "ALLOW"
	VerdictCancel  Verdict = "CANCEL"
	VerdictDeliver Verdict = "DELIVER"
	VerdictAbort   Verdict = "ABORT"
	VerdictReject  Verdict = "REJECT"
	VerdictError   Verdict = "ERROR"
)

var (
	ErrEmpty        = errors.New("empty datagram")
	ErrUnknownVerb  = errors.New("unknown verb")
	ErrMissingField = errors.New("missing field")
)

// Codec converts between datagrams and Events.
type Codec interface {
	Decode(data []byte) (Event, error)
	EncodeVerdict(v Verdict) []byte
	EncodeHangup(session uuid.UUID, identifier string) []byte
}

type textCodec struct{}

// NewTextCodec returns the line-oriented text codec.
func NewTextCodec() Codec { return textCodec{} }

func (textCodec) Decode(data []byte) (Event, error) {
	line := strings.TrimSpace(string(data))
	if line == "" {
		return Event{}, ErrEmpty
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToUpper(verb) {
	case "STATE":
		name, id, _ := strings.Cut(rest, " ")
		if name == "" {
			return Event{}, fmt.Errorf("STATE: %w: phase", ErrMissingField)
		}
		phase, err := domain.ParseLinePhase(name)
		if err != nil {
			return Event{}, fmt.Errorf("STATE: %w", err)
		}
		return Event{Kind: KindState, Phase: phase, Identifier: strings.TrimSpace(id)}, nil
	case "OUTGOING":
		if rest == "" {
			return Event{}, fmt.Errorf("OUTGOING: %w: identifier", ErrMissingField)
		}
		return Event{Kind: KindOutgoing, Identifier: rest}, nil
	case "SMS":
		pdus := strings.Fields(rest)
		if len(pdus) == 0 {
			return Event{}, fmt.Errorf("SMS: %w: pdu", ErrMissingField)
		}
		return Event{Kind: KindSMS, PDUs: pdus}, nil
	case "SCREEN":
		if rest == "" {
			return Event{}, fmt.Errorf("SCREEN: %w: handle", ErrMissingField)
		}
		return Event{Kind: KindScreen, Handle: rest}, nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
}

func (textCodec) EncodeVerdict(v Verdict) []byte {
	return []byte(v)
}

func (textCodec) EncodeHangup(session uuid.UUID, identifier string) []byte {
	if identifier == "" {
		return []byte("HANGUP " + session.String())
	}
	return []byte("HANGUP " + session.String() + " " + identifier)
}
