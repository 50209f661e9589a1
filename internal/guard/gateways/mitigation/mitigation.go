// Package mitigation terminates blocked calls. A Chain tries each configured
// Strategy in order until one confirms the call was ended.
package mitigation

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/common/metrics"
	"github.com/haukened/callguard/internal/guard/domain"
)

// Strategy is one way of ending a call. Terminate returns nil only when the
// strategy is confident the call was ended.
type Strategy interface {
	Name() string
	Terminate(ctx context.Context, s domain.CallSessionState) error
}

// Chain runs strategies in order and stops at the first success.
type Chain struct {
	strategies []Strategy
	logger     log.Logger
	metrics    *metrics.Metrics
}

// NewChain builds a Chain. Nil strategies are ignored.
func NewChain(logger log.Logger, m *metrics.Metrics, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	c := &Chain{logger: logger, metrics: m}
	for _, s := range strategies {
		if s != nil {
			c.strategies = append(c.strategies, s)
		}
	}
	return c
}

// Len returns the number of strategies in the chain.
func (c *Chain) Len() int { return len(c.strategies) }

// Terminate tries each strategy until one succeeds. When none does, the
// returned error wraps domain.ErrActionUnconfirmed and every strategy error.
func (c *Chain) Terminate(ctx context.Context, s domain.CallSessionState) error {
	var errs error
	for _, st := range c.strategies {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		err := st.Terminate(ctx, s)
		c.metrics.MitigationAttempt(st.Name(), err == nil)
		if err == nil {
			c.logger.Debug(map[string]any{
				"strategy":   st.Name(),
				"session_id": s.SessionID.String(),
			}, "call terminated")
			return nil
		}
		c.logger.Debug(map[string]any{
			"strategy":   st.Name(),
			"session_id": s.SessionID.String(),
			"error":      err,
		}, "termination strategy failed")
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", st.Name(), err))
	}
	if errs == nil {
		return fmt.Errorf("%w: no strategies configured", domain.ErrActionUnconfirmed)
	}
	return fmt.Errorf("%w: %w", domain.ErrActionUnconfirmed, errs)
}

// Func adapts a function to the Strategy interface.
type Func struct {
	Label string
	Fn    func(ctx context.Context, s domain.CallSessionState) error
}

func (f Func) Name() string { return f.Label }

func (f Func) Terminate(ctx context.Context, s domain.CallSessionState) error {
	return f.Fn(ctx, s)
}
