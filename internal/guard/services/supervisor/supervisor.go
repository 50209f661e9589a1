// Package supervisor starts and stops interception: it owns the lifecycle
// of listener registration with the platform event source.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/common/metrics"
	"github.com/haukened/callguard/internal/guard/domain"
)

// State is the interception lifecycle state.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

type Options struct {
	Tracker     Tracker
	Messages    MessageListener
	Blocklist   Blocklist
	Source      EventSource
	Indicator   Indicator
	Permissions domain.Permissions
	Logger      log.Logger
	Metrics     *metrics.Metrics
}

type Supervisor struct {
	mu      sync.Mutex
	running bool

	tracker     Tracker
	messages    MessageListener
	blocklist   Blocklist
	source      EventSource
	indicator   Indicator
	permissions domain.Permissions
	logger      log.Logger
	metrics     *metrics.Metrics
}

func New(opts Options) *Supervisor {
	s := &Supervisor{
		tracker:     opts.Tracker,
		messages:    opts.Messages,
		blocklist:   opts.Blocklist,
		source:      opts.Source,
		indicator:   opts.Indicator,
		permissions: opts.Permissions,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}
	return s
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Supervisor) stateLocked() State {
	if s.running {
		return StateRunning
	}
	return StateStopped
}

// Start moves STOPPED → RUNNING. Starting a running supervisor is a no-op.
func (s *Supervisor) Start(_ context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return StateRunning, nil
	}
	if s.permissions != nil {
		if err := domain.Require(s.permissions, domain.InterceptionCapabilities...); err != nil {
			return StateStopped, err
		}
	}

	s.tracker.Reset()
	if s.blocklist != nil {
		if err := s.blocklist.Rebuild(); err != nil {
			return StateStopped, fmt.Errorf("rebuild blocklist: %w", err)
		}
	}
	if err := s.source.RegisterCallListener(s.tracker); err != nil {
		return StateStopped, fmt.Errorf("register call listener: %w", err)
	}
	if err := s.source.RegisterMessageListener(s.messages); err != nil {
		if uerr := s.source.UnregisterCallListener(); uerr != nil && !errors.Is(uerr, ErrNotRegistered) {
			err = multierr.Append(err, uerr)
		}
		return StateStopped, fmt.Errorf("register message listener: %w", err)
	}
	if s.indicator != nil {
		if err := s.indicator.Show(); err != nil {
			s.logger.Warn(map[string]any{"error": err}, "failed to show interception indicator")
		}
	}

	s.running = true
	s.metrics.SetRunning(true)
	s.logger.Info(nil, "interception started")
	return StateRunning, nil
}

// Stop moves RUNNING → STOPPED. Listeners that are already gone are
// tolerated; other failures are reported but the supervisor still stops.
func (s *Supervisor) Stop() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return StateStopped, nil
	}

	var errs error
	if err := s.source.UnregisterCallListener(); err != nil && !errors.Is(err, ErrNotRegistered) {
		errs = multierr.Append(errs, err)
	}
	if err := s.source.UnregisterMessageListener(); err != nil && !errors.Is(err, ErrNotRegistered) {
		errs = multierr.Append(errs, err)
	}
	if s.indicator != nil {
		if err := s.indicator.Hide(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	s.running = false
	s.metrics.SetRunning(false)
	s.logger.Info(nil, "interception stopped")
	return StateStopped, errs
}
