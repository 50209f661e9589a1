package domain

// BlockDecision is the outcome of evaluating an identifier against the blocklist.
// Pure value type, cached by the repository.
type BlockDecision struct {
	Blocked    bool
	Identifier string
}

// IsBlocked is a convenience accessor.
func (d BlockDecision) IsBlocked() bool { return d.Blocked }

// AllowDecision returns a not-blocked decision for id.
func AllowDecision(id string) BlockDecision { return BlockDecision{Identifier: id} }
