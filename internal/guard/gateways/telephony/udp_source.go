// Package telephony receives platform notifications from the bridge over UDP
// and dispatches them to the registered listeners.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/common/metrics"
	"github.com/haukened/callguard/internal/guard/domain"
	"github.com/haukened/callguard/internal/guard/gateways/wire"
	"github.com/haukened/callguard/internal/guard/services/supervisor"
)

const (
	// maxDatagram fits several concatenated SMS-DELIVER PDUs in hex.
	maxDatagram = 8192
	// orderedBacklog bounds call notifications waiting for the call worker.
	orderedBacklog = 256
)

// ErrNoPeer is returned by Send before the bridge has contacted us.
var ErrNoPeer = errors.New("bridge peer unknown")

// Screener answers SCREEN requests. Screening is served whether or not
// interception is running.
type Screener interface {
	Screen(ctx context.Context, handle string) (domain.ScreeningResponse, error)
}

// UDPSource implements supervisor.EventSource over UDP datagrams and
// mitigation.Sender towards the most recent bridge peer.
type UDPSource struct {
	addr     string
	conn     *net.UDPConn
	codec    wire.Codec
	screener Screener
	logger   log.Logger
	metrics  *metrics.Metrics

	// Synchronization for graceful shutdown
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}

	calls    supervisor.CallListener
	messages supervisor.MessageListener
	peer     *net.UDPAddr
}

// inbound is a decoded datagram waiting for its handler.
type inbound struct {
	ev   wire.Event
	peer *net.UDPAddr
}

// ordered reports whether k must reach its listener in arrival order.
// Line states and outgoing calls drive the tracker's state machine; SMS and
// SCREEN carry no cross-datagram state.
func ordered(k wire.Kind) bool {
	return k == wire.KindState || k == wire.KindOutgoing
}

// NewUDPSource creates a new bridge listener on addr.
func NewUDPSource(addr string, codec wire.Codec, screener Screener, logger log.Logger, m *metrics.Metrics) *UDPSource {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &UDPSource{
		addr:     addr,
		codec:    codec,
		screener: screener,
		logger:   logger,
		metrics:  m,
	}
}

// Start binds the UDP socket and starts the datagram handling loop.
func (s *UDPSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("bridge listener already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", s.addr, err)
	}

	s.conn = conn
	s.running = true
	s.stopCh = make(chan struct{})

	s.logger.Info(map[string]any{
		"transport": "udp",
		"address":   conn.LocalAddr().String(),
	}, "bridge listener started")

	queue := make(chan inbound, orderedBacklog)
	go s.callWorker(ctx, conn, queue, s.stopCh)
	go s.listenLoop(ctx, conn, queue, s.stopCh)
	return nil
}

// Stop closes the socket. Registered listeners are kept.
func (s *UDPSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	close(s.stopCh)
	s.running = false

	err := s.conn.Close()
	if err != nil {
		s.logger.Warn(map[string]any{"error": err.Error()}, "error closing bridge socket")
	}
	s.logger.Info(map[string]any{"transport": "udp", "address": s.addr}, "bridge listener stopped")
	return err
}

// Address returns the bound address while running, else the configured one.
func (s *UDPSource) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running {
		return s.conn.LocalAddr().String()
	}
	return s.addr
}

func (s *UDPSource) RegisterCallListener(l supervisor.CallListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = l
	return nil
}

func (s *UDPSource) UnregisterCallListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		return supervisor.ErrNotRegistered
	}
	s.calls = nil
	return nil
}

func (s *UDPSource) RegisterMessageListener(l supervisor.MessageListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = l
	return nil
}

func (s *UDPSource) UnregisterMessageListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		return supervisor.ErrNotRegistered
	}
	s.messages = nil
	return nil
}

// Send writes payload to the bridge peer that last sent us a datagram.
func (s *UDPSource) Send(_ context.Context, payload []byte) error {
	s.mu.RLock()
	conn, peer, running := s.conn, s.peer, s.running
	s.mu.RUnlock()

	if !running {
		return fmt.Errorf("bridge listener not running")
	}
	if peer == nil {
		return ErrNoPeer
	}
	_, err := conn.WriteToUDP(payload, peer)
	return err
}

// listenLoop reads datagrams and hands call notifications to the single
// call worker, so one bridge's line states are never reordered. Other
// events are handled on their own goroutine.
func (s *UDPSource) listenLoop(ctx context.Context, conn *net.UDPConn, queue chan<- inbound, stopCh chan struct{}) {
	buffer := make([]byte, maxDatagram)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug(nil, "bridge listener stopping due to context cancellation")
			return
		case <-stopCh:
			s.logger.Debug(nil, "bridge listener stopping due to stop signal")
			return
		default:
			n, peer, err := conn.ReadFromUDP(buffer)
			if err != nil {
				s.mu.RLock()
				running := s.running
				s.mu.RUnlock()
				if !running {
					return
				}
				s.logger.Warn(map[string]any{"error": err.Error()}, "failed to read bridge datagram")
				continue
			}

			s.mu.Lock()
			s.peer = peer
			s.mu.Unlock()

			ev, err := s.codec.Decode(buffer[:n])
			if err != nil {
				s.metrics.HandlerError("decode")
				s.logger.Warn(map[string]any{
					"peer":  peer.String(),
					"size":  n,
					"error": err.Error(),
				}, "failed to decode bridge datagram")
				continue
			}

			if !ordered(ev.Kind) {
				go s.handleEvent(ctx, conn, ev, peer)
				continue
			}
			select {
			case queue <- inbound{ev: ev, peer: peer}:
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			}
		}
	}
}

// callWorker drains queue one event at a time.
func (s *UDPSource) callWorker(ctx context.Context, conn *net.UDPConn, queue <-chan inbound, stopCh chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case in := <-queue:
			s.handleEvent(ctx, conn, in.ev, in.peer)
		}
	}
}

// handleEvent dispatches one decoded event and replies with the verdict
// when the event expects one.
func (s *UDPSource) handleEvent(ctx context.Context, conn *net.UDPConn, ev wire.Event, peer *net.UDPAddr) {
	verdict, err := s.dispatch(ctx, ev)
	if err != nil {
		s.metrics.HandlerError(ev.Kind.String())
		s.logger.Error(map[string]any{
			"peer":  peer.String(),
			"event": ev.Kind.String(),
			"error": err,
		}, "bridge event handler failed")
	}
	if verdict == "" {
		return
	}

	if _, err := conn.WriteToUDP(s.codec.EncodeVerdict(verdict), peer); err != nil {
		s.logger.Error(map[string]any{
			"peer":  peer.String(),
			"error": err.Error(),
		}, "failed to send bridge reply")
		return
	}
	s.logger.Debug(map[string]any{
		"peer":    peer.String(),
		"event":   ev.Kind.String(),
		"verdict": string(verdict),
	}, "sent bridge reply")
}

// dispatch routes ev to its handler. The verdict is always set for events
// that expect a reply, even when the handler reports an error.
func (s *UDPSource) dispatch(ctx context.Context, ev wire.Event) (wire.Verdict, error) {
	s.mu.RLock()
	calls, messages := s.calls, s.messages
	s.mu.RUnlock()

	switch ev.Kind {
	case wire.KindState:
		if calls == nil {
			s.logger.Debug(map[string]any{"phase": ev.Phase.String()}, "line state ignored, interception stopped")
			return "", nil
		}
		return "", calls.HandleLineState(ctx, ev.Phase, ev.Identifier)

	case wire.KindOutgoing:
		if calls == nil {
			return wire.VerdictAllow, nil
		}
		allow, err := calls.HandleOutgoing(ctx, ev.Identifier)
		if allow {
			return wire.VerdictAllow, err
		}
		return wire.VerdictCancel, err

	case wire.KindSMS:
		if messages == nil {
			return wire.VerdictDeliver, nil
		}
		delivered, err := messages.HandlePDUs(ctx, ev.PDUs)
		if delivered {
			return wire.VerdictDeliver, err
		}
		return wire.VerdictAbort, err

	case wire.KindScreen:
		if s.screener == nil {
			return wire.VerdictAllow, nil
		}
		resp, err := s.screener.Screen(ctx, ev.Handle)
		if resp.Disallow {
			return wire.VerdictReject, err
		}
		return wire.VerdictAllow, err
	}
	return wire.VerdictError, fmt.Errorf("unhandled event kind %s", ev.Kind)
}
