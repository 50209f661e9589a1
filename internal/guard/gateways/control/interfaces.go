package control

import (
	"context"

	"github.com/haukened/callguard/internal/guard/domain"
	"github.com/haukened/callguard/internal/guard/repos/eventlog"
	"github.com/haukened/callguard/internal/guard/services/supervisor"
)

// Blocklist is the subset of the blocklist repository exposed over HTTP.
type Blocklist interface {
	Block(id, name string) (domain.BlockedEntry, error)
	Unblock(id string) (bool, error)
	List(order domain.SortOrder) ([]domain.BlockedEntry, error)

	Insert(id, name string) (domain.BlockedEntry, error)
	GetRow(row uint64) (domain.BlockedEntry, bool, error)
	UpdateRow(row uint64, name string) (domain.BlockedEntry, error)
	DeleteRow(row uint64) (bool, error)
}

// Interception controls the interception lifecycle.
type Interception interface {
	Start(ctx context.Context) (supervisor.State, error)
	Stop() (supervisor.State, error)
	State() supervisor.State
}

// EventLog enumerates recorded call and message outcomes.
type EventLog interface {
	Calls(q eventlog.Query) ([]domain.CallEvent, error)
	Messages(q eventlog.Query) ([]domain.MessageEvent, error)
}
