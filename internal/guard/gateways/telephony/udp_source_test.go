package telephony

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/callguard/internal/guard/domain"
	"github.com/haukened/callguard/internal/guard/gateways/wire"
	"github.com/haukened/callguard/internal/guard/services/supervisor"
)

// MockLogger implements log.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Info(fields map[string]any, msg string)  { m.Called(fields, msg) }
func (m *MockLogger) Error(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Debug(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Warn(fields map[string]any, msg string)  { m.Called(fields, msg) }
func (m *MockLogger) Panic(fields map[string]any, msg string) { m.Called(fields, msg) }
func (m *MockLogger) Fatal(fields map[string]any, msg string) { m.Called(fields, msg) }

func flexibleLogger() *MockLogger {
	l := &MockLogger{}
	l.On("Info", mock.Anything, mock.Anything).Maybe()
	l.On("Debug", mock.Anything, mock.Anything).Maybe()
	l.On("Warn", mock.Anything, mock.Anything).Maybe()
	l.On("Error", mock.Anything, mock.Anything).Maybe()
	return l
}

type stateCall struct {
	phase domain.LinePhase
	id    string
}

type fakeCalls struct {
	mu       sync.Mutex
	states   []stateCall
	allow    bool
	err      error
	outgoing []string
}

func (f *fakeCalls) HandleLineState(_ context.Context, p domain.LinePhase, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateCall{p, id})
	return f.err
}

func (f *fakeCalls) HandleOutgoing(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outgoing = append(f.outgoing, id)
	return f.allow, f.err
}

func (f *fakeCalls) stateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

type fakeMessages struct {
	deliver bool
	got     [][]string
}

func (f *fakeMessages) HandlePDUs(_ context.Context, pdus []string) (bool, error) {
	f.got = append(f.got, pdus)
	return f.deliver, nil
}

type fakeScreener struct{ blocked map[string]bool }

func (f fakeScreener) Screen(_ context.Context, handle string) (domain.ScreeningResponse, error) {
	if f.blocked[handle] {
		return domain.RejectCall(), nil
	}
	return domain.AllowCall(), nil
}

func TestNewUDPSource(t *testing.T) {
	s := NewUDPSource("127.0.0.1:5060", wire.NewTextCodec(), nil, nil, nil)
	assert.Equal(t, "127.0.0.1:5060", s.Address())
	assert.False(t, s.running)
	assert.NotNil(t, s.logger)
}

func TestUDPSource_StartStop(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
		errMsg  string
	}{
		{name: "valid address", addr: "127.0.0.1:0"},
		{name: "invalid address format", addr: "invalid-address", wantErr: true, errMsg: "failed to resolve UDP address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewUDPSource(tt.addr, wire.NewTextCodec(), nil, flexibleLogger(), nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, "127.0.0.1:0", s.Address())

			err = s.Start(ctx)
			assert.ErrorContains(t, err, "already running")

			assert.NoError(t, s.Stop())
			assert.NoError(t, s.Stop())

			// restartable
			require.NoError(t, s.Start(ctx))
			assert.NoError(t, s.Stop())
		})
	}
}

func TestUDPSource_Registration(t *testing.T) {
	s := NewUDPSource("127.0.0.1:0", wire.NewTextCodec(), nil, nil, nil)
	assert.ErrorIs(t, s.UnregisterCallListener(), supervisor.ErrNotRegistered)
	assert.ErrorIs(t, s.UnregisterMessageListener(), supervisor.ErrNotRegistered)

	require.NoError(t, s.RegisterCallListener(&fakeCalls{}))
	require.NoError(t, s.RegisterMessageListener(&fakeMessages{}))
	assert.NoError(t, s.UnregisterCallListener())
	assert.NoError(t, s.UnregisterMessageListener())
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	calls := &fakeCalls{}
	msgs := &fakeMessages{}
	s := NewUDPSource("127.0.0.1:0", wire.NewTextCodec(), fakeScreener{blocked: map[string]bool{"tel:666": true}}, nil, nil)

	// nothing registered: fail open and ignore line states
	v, err := s.dispatch(ctx, wire.Event{Kind: wire.KindState, Phase: domain.PhaseRinging, Identifier: "1"})
	assert.NoError(t, err)
	assert.Empty(t, v)
	v, _ = s.dispatch(ctx, wire.Event{Kind: wire.KindOutgoing, Identifier: "1"})
	assert.Equal(t, wire.VerdictAllow, v)
	v, _ = s.dispatch(ctx, wire.Event{Kind: wire.KindSMS, PDUs: []string{"00"}})
	assert.Equal(t, wire.VerdictDeliver, v)

	require.NoError(t, s.RegisterCallListener(calls))
	require.NoError(t, s.RegisterMessageListener(msgs))

	v, err = s.dispatch(ctx, wire.Event{Kind: wire.KindState, Phase: domain.PhaseRinging, Identifier: "+1555"})
	assert.NoError(t, err)
	assert.Empty(t, v)
	assert.Equal(t, []stateCall{{domain.PhaseRinging, "+1555"}}, calls.states)

	v, _ = s.dispatch(ctx, wire.Event{Kind: wire.KindOutgoing, Identifier: "+1666"})
	assert.Equal(t, wire.VerdictCancel, v)
	calls.allow = true
	v, _ = s.dispatch(ctx, wire.Event{Kind: wire.KindOutgoing, Identifier: "+1777"})
	assert.Equal(t, wire.VerdictAllow, v)

	v, _ = s.dispatch(ctx, wire.Event{Kind: wire.KindSMS, PDUs: []string{"AA"}})
	assert.Equal(t, wire.VerdictAbort, v)
	msgs.deliver = true
	v, _ = s.dispatch(ctx, wire.Event{Kind: wire.KindSMS, PDUs: []string{"BB"}})
	assert.Equal(t, wire.VerdictDeliver, v)
	assert.Equal(t, [][]string{{"AA"}, {"BB"}}, msgs.got)

	v, _ = s.dispatch(ctx, wire.Event{Kind: wire.KindScreen, Handle: "tel:666"})
	assert.Equal(t, wire.VerdictReject, v)
	v, _ = s.dispatch(ctx, wire.Event{Kind: wire.KindScreen, Handle: "tel:777"})
	assert.Equal(t, wire.VerdictAllow, v)

	calls.err = errors.New("boom")
	calls.allow = false
	v, err = s.dispatch(ctx, wire.Event{Kind: wire.KindOutgoing, Identifier: "+1666"})
	assert.Error(t, err)
	assert.Equal(t, wire.VerdictCancel, v, "verdict is sent even when the handler errors")

	v, err = s.dispatch(ctx, wire.Event{Kind: wire.Kind(42)})
	assert.Error(t, err)
	assert.Equal(t, wire.VerdictError, v)
}

func exchange(t *testing.T, conn *net.UDPConn, msg string) string {
	t.Helper()
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestUDPSource_EndToEnd(t *testing.T) {
	calls := &fakeCalls{}
	s := NewUDPSource("127.0.0.1:0", wire.NewTextCodec(), fakeScreener{blocked: map[string]bool{"tel:+15551234567": true}}, flexibleLogger(), nil)
	require.NoError(t, s.RegisterCallListener(calls))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	raddr, err := net.ResolveUDPAddr("udp", s.Address())
	require.NoError(t, err)
	client, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "REJECT", exchange(t, client, "SCREEN tel:+15551234567"))
	assert.Equal(t, "ALLOW", exchange(t, client, "SCREEN tel:+15559876543"))
	assert.Equal(t, "CANCEL", exchange(t, client, "OUTGOING +15551234567"))

	_, err = client.Write([]byte("STATE RINGING +15559876543"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return calls.stateCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// the bridge is now a known peer, so commands can be pushed to it
	require.NoError(t, s.Send(ctx, []byte("HANGUP x")))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "HANGUP x", string(buf[:n]))
}

func TestUDPSource_SendWithoutPeer(t *testing.T) {
	s := NewUDPSource("127.0.0.1:0", wire.NewTextCodec(), nil, flexibleLogger(), nil)
	assert.Error(t, s.Send(context.Background(), []byte("x")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	assert.ErrorIs(t, s.Send(ctx, []byte("x")), ErrNoPeer)
}

func (f *fakeCalls) snapshot() []stateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateCall(nil), f.states...)
}

func TestUDPSource_LineStatesKeepArrivalOrder(t *testing.T) {
	calls := &fakeCalls{}
	s := NewUDPSource("127.0.0.1:0", wire.NewTextCodec(), nil, flexibleLogger(), nil)
	require.NoError(t, s.RegisterCallListener(calls))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	raddr, err := net.ResolveUDPAddr("udp", s.Address())
	require.NoError(t, err)
	client, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	defer client.Close()

	const pairs = 50
	sent := make(map[stateCall]int, 2*pairs)
	for i := 0; i < pairs; i++ {
		id := fmt.Sprintf("+1555%04d", i)
		for _, p := range []domain.LinePhase{domain.PhaseRinging, domain.PhaseIdle} {
			sent[stateCall{p, id}] = len(sent)
			_, err := client.Write([]byte(fmt.Sprintf("STATE %s %s", p, id)))
			require.NoError(t, err)
		}
	}

	// wait until delivery settles; loopback may still drop under load
	last := -1
	require.Eventually(t, func() bool {
		n := calls.stateCount()
		settled := n == last && n > 0
		last = n
		return n == len(sent) || settled
	}, 3*time.Second, 50*time.Millisecond)

	got := calls.snapshot()
	require.NotEmpty(t, got)
	prev := -1
	for _, c := range got {
		idx, ok := sent[c]
		require.True(t, ok, "unexpected notification %+v", c)
		assert.Greater(t, idx, prev, "notification %+v delivered out of order", c)
		prev = idx
	}
}
