package messages

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/callguard/internal/guard/common/clock"
	"github.com/haukened/callguard/internal/guard/domain"
)

// 27838890001 → "hellohello", GSM 7-bit.
const refPDU = "07917283010010F5040BC87238880900F10000993092516195800AE8329BFD4697D9EC37"

type fakeBlocklist struct {
	mu      sync.Mutex
	blocked map[string]bool
	counts  map[string]int
}

func newFakeBlocklist(ids ...string) *fakeBlocklist {
	b := &fakeBlocklist{blocked: map[string]bool{}, counts: map[string]int{}}
	for _, id := range ids {
		b.blocked[id] = true
	}
	return b
}

func (b *fakeBlocklist) Decide(id string) domain.BlockDecision {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.BlockDecision{Blocked: b.blocked[id], Identifier: id}
}

func (b *fakeBlocklist) IncrementBlockedMessage(id string) (domain.BlockedEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[id]++
	return domain.BlockedEntry{Identifier: id, BlockedMessages: uint64(b.counts[id])}, nil
}

type fakeEvents struct {
	events []domain.MessageEvent
	err    error
}

func (f *fakeEvents) AppendMessage(e domain.MessageEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

type mockConsumer struct{ mock.Mock }

func (m *mockConsumer) Deliver(ctx context.Context, msg domain.InboundMessage) error {
	return m.Called(ctx, msg).Error(0)
}

var now = time.Date(2024, 7, 4, 10, 0, 0, 0, time.UTC)

func TestIntercept_DeliversAllowed(t *testing.T) {
	bl := newFakeBlocklist()
	ev := &fakeEvents{}
	c := &mockConsumer{}
	c.On("Deliver", mock.Anything, domain.InboundMessage{Identifier: "+15550001", Body: "hi"}).Return(nil).Once()

	i := New(Options{Blocklist: bl, Events: ev, Consumers: []Consumer{c}, Clock: clock.NewMockClock(now)})
	ok, err := i.Intercept(context.Background(), []domain.InboundMessage{{Identifier: "+1 555 0001", Body: "hi"}})
	require.NoError(t, err)
	assert.True(t, ok)

	c.AssertExpectations(t)
	require.Len(t, ev.events, 1)
	assert.Equal(t, domain.MessageEvent{Identifier: "+15550001", Body: "hi", Timestamp: now, Delivered: true}, ev.events[0])
}

func TestIntercept_BlockedSuppressesAndStops(t *testing.T) {
	bl := newFakeBlocklist("+15550002")
	ev := &fakeEvents{}
	c := &mockConsumer{}

	i := New(Options{Blocklist: bl, Events: ev, Consumers: []Consumer{c}, Clock: clock.NewMockClock(now)})
	ok, err := i.Intercept(context.Background(), []domain.InboundMessage{
		{Identifier: "+15550001", Body: "first"},
		{Identifier: "+15550002", Body: "spam part 1"},
		{Identifier: "+15550002", Body: "spam part 2"},
		{Identifier: "+15550003", Body: "never seen"},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	c.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	assert.Equal(t, 1, bl.counts["+15550002"], "counted exactly once per delivery")
	assert.Zero(t, bl.counts["+15550001"])
	require.Len(t, ev.events, 2)
	assert.Equal(t, domain.MessageEvent{Identifier: "+15550001", Body: "first", Timestamp: now}, ev.events[0])
	assert.Equal(t, domain.MessageEvent{Identifier: "+15550002", Body: "spam part 1", Timestamp: now}, ev.events[1])
}

func TestIntercept_MixedBatchReachesNoConsumer(t *testing.T) {
	tests := []struct {
		name      string
		batch     []string
		delivered bool
		seen      []string
	}{
		{name: "allowed then blocked", batch: []string{"+15550001", "+15550002"}, seen: nil},
		{name: "blocked first", batch: []string{"+15550002", "+15550001"}, seen: nil},
		{name: "all allowed", batch: []string{"+15550001", "+15550003"}, delivered: true, seen: []string{"+15550001", "+15550003"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []string
			sink := ConsumerFunc(func(_ context.Context, m domain.InboundMessage) error {
				seen = append(seen, m.Identifier)
				return nil
			})
			msgs := make([]domain.InboundMessage, 0, len(tt.batch))
			for _, id := range tt.batch {
				msgs = append(msgs, domain.InboundMessage{Identifier: id, Body: "part"})
			}

			i := New(Options{Blocklist: newFakeBlocklist("+15550002"), Events: &fakeEvents{}, Consumers: []Consumer{sink}})
			ok, err := i.Intercept(context.Background(), msgs)
			require.NoError(t, err)
			assert.Equal(t, tt.delivered, ok)
			assert.Equal(t, tt.seen, seen)
		})
	}
}

func TestIntercept_ConsumerAndLogErrorsAreReported(t *testing.T) {
	c := &mockConsumer{}
	c.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("inbox full"))
	ev := &fakeEvents{err: domain.ErrStoreUnavailable}

	i := New(Options{Blocklist: newFakeBlocklist(), Events: ev, Consumers: []Consumer{c}})
	ok, err := i.Intercept(context.Background(), []domain.InboundMessage{{Identifier: "1", Body: "x"}})
	assert.True(t, ok)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "inbox full")
}

func TestHandlePDUs_DecodesAndSkipsGarbage(t *testing.T) {
	ev := &fakeEvents{}
	var got []domain.InboundMessage
	sink := ConsumerFunc(func(_ context.Context, m domain.InboundMessage) error {
		got = append(got, m)
		return nil
	})

	i := New(Options{Blocklist: newFakeBlocklist(), Events: ev, Consumers: []Consumer{sink}})
	ok, err := i.HandlePDUs(context.Background(), []string{"zz-not-hex", refPDU, "00"})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "27838890001", got[0].Identifier)
	assert.Equal(t, "hellohello", got[0].Body)
	assert.Nil(t, got[0].Concat)
}

func TestHandlePDUs_BlockedSender(t *testing.T) {
	bl := newFakeBlocklist("27838890001")
	ev := &fakeEvents{}
	c := &mockConsumer{}

	i := New(Options{Blocklist: bl, Events: ev, Consumers: []Consumer{c}})
	ok, err := i.HandlePDUs(context.Background(), []string{refPDU})
	require.NoError(t, err)
	assert.False(t, ok)
	c.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	assert.Equal(t, 1, bl.counts["27838890001"])
}

func TestHandlePDUs_Empty(t *testing.T) {
	i := New(Options{Blocklist: newFakeBlocklist()})
	ok, err := i.HandlePDUs(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
