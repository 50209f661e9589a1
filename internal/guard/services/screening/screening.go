// Package screening answers the platform's synchronous call-screening hook.
package screening

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/haukened/callguard/internal/guard/common/clock"
	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/common/metrics"
	"github.com/haukened/callguard/internal/guard/common/phone"
	"github.com/haukened/callguard/internal/guard/domain"
)

type Blocklist interface {
	Decide(id string) domain.BlockDecision
	IncrementBlockedCall(id string) (domain.BlockedEntry, error)
}

type EventLog interface {
	AppendCall(e domain.CallEvent) error
}

type Options struct {
	Blocklist Blocklist
	Events    EventLog
	Clock     clock.Clock
	Logger    log.Logger
	Metrics   *metrics.Metrics
}

// Screener decides a single incoming call without involving the call tracker.
type Screener struct {
	blocklist Blocklist
	events    EventLog
	clock     clock.Clock
	logger    log.Logger
	metrics   *metrics.Metrics
}

func New(opts Options) *Screener {
	s := &Screener{
		blocklist: opts.Blocklist,
		events:    opts.Events,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}
	return s
}

// Screen returns the response for the call identified by handle, which may
// be a tel: URI. The response is always usable; the error reports problems
// recording a rejection.
func (s *Screener) Screen(_ context.Context, handle string) (domain.ScreeningResponse, error) {
	id := phone.Normalize(handle)
	if !s.blocklist.Decide(id).Blocked {
		s.metrics.ScreeningDecision(false)
		return domain.AllowCall(), nil
	}

	s.metrics.ScreeningDecision(true)
	s.logger.Info(map[string]any{"identifier": id}, "screened call rejected")

	var errs error
	if _, err := s.blocklist.IncrementBlockedCall(id); err != nil {
		errs = multierr.Append(errs, err)
	}
	e := domain.NewCallEvent(id, domain.OutcomeBlocked, s.clock.Now())
	s.metrics.CallOutcome(e.Outcome.String(), e.Direction.String())
	if s.events != nil {
		if err := s.events.AppendCall(e); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("record screened call from %s: %w", id, err))
		}
	}
	return domain.RejectCall(), errs
}
