package calltracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/haukened/callguard/internal/guard/common/clock"
	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/common/metrics"
	"github.com/haukened/callguard/internal/guard/common/phone"
	"github.com/haukened/callguard/internal/guard/domain"
)

// Tracker turns line-state notifications into classified call events.
//
// It owns the single CallSessionState. The blocklist is consulted before mu
// is taken and transitions are decided under mu; termination, counters and
// the event log run after mu is released.
type Tracker struct {
	mu    sync.Mutex
	state domain.CallSessionState

	blocklist  Blocklist
	events     EventLog
	terminator Terminator
	clock      clock.Clock
	logger     log.Logger
	metrics    *metrics.Metrics
	newID      func() uuid.UUID
}

type Options struct {
	Blocklist  Blocklist
	Events     EventLog
	Terminator Terminator
	Clock      clock.Clock
	Logger     log.Logger
	Metrics    *metrics.Metrics
	// NewID generates session ids; defaults to uuid.New.
	NewID func() uuid.UUID
}

func New(opts Options) *Tracker {
	t := &Tracker{
		state:      domain.IdleSession(),
		blocklist:  opts.Blocklist,
		events:     opts.Events,
		terminator: opts.Terminator,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		newID:      opts.NewID,
	}
	if t.clock == nil {
		t.clock = clock.RealClock{}
	}
	if t.logger == nil {
		t.logger = log.NewNoopLogger()
	}
	if t.newID == nil {
		t.newID = uuid.New
	}
	return t
}

// State returns a copy of the current session.
func (t *Tracker) State() domain.CallSessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset forgets any in-progress session.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.state = domain.IdleSession()
	t.mu.Unlock()
}

// effect is what a transition asks for once the lock is released.
type effect struct {
	outcome domain.Outcome // zero for none
	block   bool
	overlap bool
	session domain.CallSessionState
}

// HandleLineState applies one platform line-state notification.
func (t *Tracker) HandleLineState(ctx context.Context, phase domain.LinePhase, rawID string) error {
	id := phone.Normalize(rawID)

	// A lookup may read the store, so it stays outside mu. The verdict
	// depends only on id, not on the session phase.
	blocked := false
	if phase == domain.PhaseRinging {
		blocked = t.blocklist.Decide(id).Blocked
	}

	t.mu.Lock()
	eff := t.transitionLocked(phase, id, blocked)
	t.mu.Unlock()

	switch {
	case eff.block:
		return t.block(ctx, eff.session)
	case eff.overlap:
		t.logger.Warn(map[string]any{
			"identifier": id,
			"active":     eff.session.ActiveNumber,
			"session_id": eff.session.SessionID.String(),
		}, "ignoring ringing line while a call session is active")
		return fmt.Errorf("%w: %s while %s is active", domain.ErrOverlappingSession, id, eff.session.ActiveNumber)
	case eff.outcome != 0:
		return t.record(domain.NewCallEvent(eff.session.ActiveNumber, eff.outcome, t.clock.Now()))
	}
	return nil
}

// transitionLocked applies phase; blocked is the blocklist verdict for id.
func (t *Tracker) transitionLocked(phase domain.LinePhase, id string, blocked bool) effect {
	cur := t.state
	switch phase {
	case domain.PhaseRinging:
		if cur.Phase != domain.PhaseIdle {
			if cur.Active() && (id == "" || id == cur.ActiveNumber) {
				return effect{} // duplicate broadcast
			}
			// Another line rings while a call is in progress. The active
			// session is kept; a blocked caller is still turned away.
			if blocked {
				s := domain.CallSessionState{SessionID: t.newID(), ActiveNumber: id, Phase: domain.PhaseRinging, Blocked: true}
				return effect{block: true, session: s}
			}
			return effect{overlap: true, session: cur}
		}
		s := domain.CallSessionState{SessionID: t.newID(), ActiveNumber: id, Phase: domain.PhaseRinging, Blocked: blocked}
		t.state = s
		t.logger.Debug(map[string]any{
			"identifier": id,
			"session_id": s.SessionID.String(),
			"blocked":    s.Blocked,
		}, "call session started")
		if s.Blocked {
			return effect{block: true, session: s}
		}
		return effect{}

	case domain.PhaseOffhook:
		switch cur.Phase {
		case domain.PhaseRinging:
			t.state.Phase = domain.PhaseOffhook
			if cur.Blocked {
				return effect{}
			}
			return effect{outcome: domain.OutcomeAnswered, session: cur}
		case domain.PhaseIdle:
			// outgoing call connected; nothing to classify
			t.state = domain.CallSessionState{Phase: domain.PhaseOffhook}
		}
		return effect{}

	case domain.PhaseIdle:
		t.state = domain.IdleSession()
		if cur.Phase == domain.PhaseRinging && !cur.Blocked {
			return effect{outcome: domain.OutcomeMissed, session: cur}
		}
		return effect{}
	}
	return effect{}
}

// HandleOutgoing gates an outgoing call before it is placed. It reports
// whether the call may proceed.
func (t *Tracker) HandleOutgoing(ctx context.Context, rawID string) (bool, error) {
	id := phone.Normalize(rawID)
	now := t.clock.Now()

	if !t.blocklist.Decide(id).Blocked {
		e := domain.CallEvent{Identifier: id, Outcome: domain.OutcomeOutgoing, Direction: domain.DirectionOutgoing, Timestamp: now}
		return true, t.record(e)
	}

	t.logger.Info(map[string]any{"identifier": id}, "outgoing call cancelled")
	var errs error
	if _, err := t.blocklist.IncrementBlockedCall(id); err != nil {
		errs = multierr.Append(errs, err)
	}
	e := domain.CallEvent{Identifier: id, Outcome: domain.OutcomeBlocked, Direction: domain.DirectionOutgoing, Timestamp: now}
	errs = multierr.Append(errs, t.record(e))
	return false, errs
}

// block runs the mitigation chain and records the blocked call. BLOCKED is
// recorded even when termination could not be confirmed.
func (t *Tracker) block(ctx context.Context, s domain.CallSessionState) error {
	var errs error
	if t.terminator == nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: no terminator", domain.ErrActionUnconfirmed))
	} else if err := t.terminator.Terminate(ctx, s); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		t.metrics.HandlerError("mitigation")
		t.logger.Warn(map[string]any{
			"identifier": s.ActiveNumber,
			"session_id": s.SessionID.String(),
			"error":      errs,
		}, "blocked call termination unconfirmed")
	}

	if _, err := t.blocklist.IncrementBlockedCall(s.ActiveNumber); err != nil {
		errs = multierr.Append(errs, err)
	}
	errs = multierr.Append(errs, t.record(domain.NewCallEvent(s.ActiveNumber, domain.OutcomeBlocked, t.clock.Now())))

	t.logger.Info(map[string]any{
		"identifier": s.ActiveNumber,
		"session_id": s.SessionID.String(),
	}, "blocked incoming call")
	return errs
}

func (t *Tracker) record(e domain.CallEvent) error {
	t.metrics.CallOutcome(e.Outcome.String(), e.Direction.String())
	if t.events == nil {
		return nil
	}
	if err := t.events.AppendCall(e); err != nil {
		return fmt.Errorf("record %s call from %s: %w", e.Outcome, e.Identifier, err)
	}
	return nil
}
