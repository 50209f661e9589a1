package domain

// ChangeKind classifies a blocklist mutation.
type ChangeKind uint8

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeUpdated
	ChangeRemoved
	ChangeCounted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeUpdated:
		return "updated"
	case ChangeRemoved:
		return "removed"
	case ChangeCounted:
		return "counted"
	default:
		return "unknown"
	}
}

// Change is published to blocklist observers after every committed mutation.
type Change struct {
	Kind  ChangeKind
	Entry BlockedEntry
}
