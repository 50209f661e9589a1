// Package messages classifies inbound SMS fragments against the blocklist
// and suppresses those from blocked senders before any other consumer sees
// them.
package messages

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/haukened/callguard/internal/guard/common/clock"
	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/common/metrics"
	"github.com/haukened/callguard/internal/guard/common/pdu"
	"github.com/haukened/callguard/internal/guard/common/phone"
	"github.com/haukened/callguard/internal/guard/domain"
)

type Blocklist interface {
	Decide(id string) domain.BlockDecision
	IncrementBlockedMessage(id string) (domain.BlockedEntry, error)
}

type EventLog interface {
	AppendMessage(e domain.MessageEvent) error
}

// Consumer is a downstream handler in the delivery chain. It only ever sees
// fragments from senders that are not blocked.
type Consumer interface {
	Deliver(ctx context.Context, m domain.InboundMessage) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, m domain.InboundMessage) error

func (f ConsumerFunc) Deliver(ctx context.Context, m domain.InboundMessage) error { return f(ctx, m) }

type Options struct {
	Blocklist Blocklist
	Events    EventLog
	Consumers []Consumer
	Clock     clock.Clock
	Logger    log.Logger
	Metrics   *metrics.Metrics
}

// Interceptor is the first handler of the inbound message delivery chain.
type Interceptor struct {
	blocklist Blocklist
	events    EventLog
	consumers []Consumer
	clock     clock.Clock
	logger    log.Logger
	metrics   *metrics.Metrics
}

func New(opts Options) *Interceptor {
	i := &Interceptor{
		blocklist: opts.Blocklist,
		events:    opts.Events,
		consumers: opts.Consumers,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if i.clock == nil {
		i.clock = clock.RealClock{}
	}
	if i.logger == nil {
		i.logger = log.NewNoopLogger()
	}
	return i
}

// HandlePDUs decodes hex-encoded SMS-DELIVER fragments and intercepts them.
// Fragments that fail to decode are logged and skipped.
func (i *Interceptor) HandlePDUs(ctx context.Context, hexPDUs []string) (bool, error) {
	msgs := make([]domain.InboundMessage, 0, len(hexPDUs))
	for idx, h := range hexPDUs {
		d, err := pdu.DecodeHex(h)
		if err != nil {
			i.metrics.HandlerError("pdu")
			i.logger.Warn(map[string]any{"fragment": idx, "error": err}, "skipping undecodable sms fragment")
			continue
		}
		m := domain.InboundMessage{Identifier: d.Originator, Body: d.Body}
		if d.Concat != nil {
			m.Concat = &domain.ConcatRef{Reference: d.Concat.Reference, Total: d.Concat.Total, Sequence: d.Concat.Sequence}
		}
		msgs = append(msgs, m)
	}
	return i.Intercept(ctx, msgs)
}

// Intercept classifies each fragment in order before any consumer runs. A
// fragment from a blocked sender aborts the whole batch: no consumer sees any
// of its fragments, the fragments before it are logged as withheld and the
// fragments after it are not examined. It reports whether the batch was
// delivered.
func (i *Interceptor) Intercept(ctx context.Context, msgs []domain.InboundMessage) (bool, error) {
	var errs error
	accepted := make([]domain.InboundMessage, 0, len(msgs))
	for _, m := range msgs {
		m.Identifier = phone.Normalize(m.Identifier)
		if !i.blocklist.Decide(m.Identifier).Blocked {
			accepted = append(accepted, m)
			continue
		}

		i.logger.Info(logFields(m), "suppressed message from blocked sender")
		if _, err := i.blocklist.IncrementBlockedMessage(m.Identifier); err != nil {
			errs = multierr.Append(errs, err)
		}
		for _, w := range accepted {
			i.logger.Debug(logFields(w), "message withheld with its batch")
			errs = multierr.Append(errs, i.record(domain.MessageEvent{
				Identifier: w.Identifier,
				Body:       w.Body,
				Timestamp:  i.clock.Now(),
			}))
		}
		errs = multierr.Append(errs, i.record(domain.MessageEvent{
			Identifier: m.Identifier,
			Body:       m.Body,
			Timestamp:  i.clock.Now(),
		}))
		return false, errs
	}

	for _, m := range accepted {
		errs = multierr.Append(errs, i.record(domain.MessageEvent{
			Identifier: m.Identifier,
			Body:       m.Body,
			Timestamp:  i.clock.Now(),
			Delivered:  true,
		}))
		i.logger.Debug(logFields(m), "delivering message")
		for _, c := range i.consumers {
			if err := c.Deliver(ctx, m); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("deliver message from %s: %w", m.Identifier, err))
			}
		}
	}
	return true, errs
}

func logFields(m domain.InboundMessage) map[string]any {
	fields := map[string]any{"identifier": m.Identifier}
	if m.Concat != nil {
		fields["concat_ref"] = m.Concat.Reference
		fields["concat_part"] = fmt.Sprintf("%d/%d", m.Concat.Sequence, m.Concat.Total)
	}
	return fields
}

func (i *Interceptor) record(e domain.MessageEvent) error {
	i.metrics.MessageVerdict(e.Delivered)
	if i.events == nil {
		return nil
	}
	if err := i.events.AppendMessage(e); err != nil {
		return fmt.Errorf("record message from %s: %w", e.Identifier, err)
	}
	return nil
}

// LogConsumer logs each delivered fragment. The daemon installs it as the
// final consumer so delivered traffic is visible without a platform inbox.
func LogConsumer(logger log.Logger) Consumer {
	return ConsumerFunc(func(_ context.Context, m domain.InboundMessage) error {
		logger.Info(map[string]any{
			"identifier": m.Identifier,
			"length":     len(m.Body),
		}, "message delivered")
		return nil
	})
}
