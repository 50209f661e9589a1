package domain

import "fmt"

// Capability names a platform-granted permission.
type Capability string

const (
	CapReadPhoneState  Capability = "read_phone_state"
	CapReceiveSMS      Capability = "receive_sms"
	CapAnswerCalls     Capability = "answer_phone_calls"
	CapReadCallLog     Capability = "read_call_log"
	CapReadSMS         Capability = "read_sms"
	CapProcessOutgoing Capability = "process_outgoing_calls"
)

// InterceptionCapabilities are required before interception can start.
var InterceptionCapabilities = []Capability{CapReadPhoneState, CapReceiveSMS}

// Permissions reports which capabilities the platform granted.
type Permissions interface {
	Granted(c Capability) bool
}

// StaticPermissions is a fixed capability set, typically loaded from config.
type StaticPermissions map[Capability]bool

// NewStaticPermissions builds a StaticPermissions from capability names.
func NewStaticPermissions(names []string) StaticPermissions {
	p := make(StaticPermissions, len(names))
	for _, n := range names {
		p[Capability(n)] = true
	}
	return p
}

func (p StaticPermissions) Granted(c Capability) bool { return p[c] }

// Require returns ErrPermissionDenied naming the first missing capability.
func Require(p Permissions, caps ...Capability) error {
	for _, c := range caps {
		if p == nil || !p.Granted(c) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, c)
		}
	}
	return nil
}
