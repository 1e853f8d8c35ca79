package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
	"cafe-system/internal/repository/memory"
)

func newTestHub(t *testing.T, store *memory.Store) (*Hub, *Bus) {
	t.Helper()
	lg := logger.Nop()
	hub := NewHub(store, lg, 50*time.Millisecond)
	require.NoError(t, hub.Init(context.Background()))
	t.Cleanup(hub.Shutdown)
	return hub, NewBus(hub, lg)
}

func created(t *testing.T, branchID, orderID int64) domain.Event {
	t.Helper()
	e, err := domain.NewEvent(domain.BranchChannel(branchID), domain.EventOrderCreated, domain.OrderCreatedPayload{
		OrderID: orderID, BranchID: branchID, CustomerID: 9, TotalPrice: decimal.NewFromInt(10), Lines: 1,
	})
	require.NoError(t, err)
	return e
}

func publish(t *testing.T, store *memory.Store, bus *Bus, events ...domain.Event) {
	t.Helper()
	err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return bus.Publish(ctx, tx, events...)
	})
	require.NoError(t, err)
}

func nextEvent(t *testing.T, s *Subscription) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-s.Frames():
			require.True(t, ok, "stream closed")
			if f.Heartbeat {
				continue
			}
			return *f.Event
		case <-deadline:
			t.Fatal("no event delivered")
		}
	}
}

func TestBus_AssignsSeqPerChannelInCommitOrder(t *testing.T) {
	store := memory.New()
	_, bus := newTestHub(t, store)

	publish(t, store, bus, created(t, 1, 100), created(t, 2, 200))
	publish(t, store, bus, created(t, 1, 101))

	evs, err := store.ReadChannel(context.Background(), domain.BranchChannel(1), 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, int64(1), evs[0].Seq)
	assert.Equal(t, int64(2), evs[1].Seq)

	head, err := store.ChannelHead(context.Background(), domain.BranchChannel(2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
}

func TestBus_ProjectsInbox(t *testing.T) {
	store := memory.New()
	_, bus := newTestHub(t, store)

	adv, err := domain.NewEvent(domain.UserChannel(9), domain.EventOrderAdvanced, domain.OrderAdvancedPayload{
		OrderID: 100, BranchID: 1, From: domain.StatusInProgress, To: domain.StatusReady, Actor: domain.RoleBarista,
	})
	require.NoError(t, err)
	publish(t, store, bus, created(t, 1, 100), adv)

	bn, err := store.ListBranchNotifications(context.Background(), 1, true, 10)
	require.NoError(t, err)
	require.Len(t, bn, 1)
	require.NotNil(t, bn[0].OrderID)
	assert.Equal(t, int64(100), *bn[0].OrderID)
	assert.Contains(t, bn[0].Title, "#100")

	cn, err := store.ListClientNotifications(context.Background(), 9, 10)
	require.NoError(t, err)
	require.Len(t, cn, 1)
	assert.Equal(t, "Order #100 is ready", cn[0].Title)
}

func TestBus_RollbackPublishesNothing(t *testing.T) {
	store := memory.New()
	hub, bus := newTestHub(t, store)

	sub, err := hub.Open(context.Background(), "b1", domain.BranchChannel(1), nil)
	require.NoError(t, err)
	defer sub.Close()

	boom := errors.New("boom")
	err = store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if err := bus.Publish(ctx, tx, created(t, 1, 100)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	head, err := store.ChannelHead(context.Background(), domain.BranchChannel(1))
	require.NoError(t, err)
	assert.Zero(t, head)

	select {
	case f := <-sub.Frames():
		assert.True(t, f.Heartbeat, "only heartbeats expected after rollback")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHub_LiveDeliveryInOrder(t *testing.T) {
	store := memory.New()
	hub, bus := newTestHub(t, store)

	sub, err := hub.Open(context.Background(), "b1", domain.BranchChannel(1), nil)
	require.NoError(t, err)
	defer sub.Close()

	for i := int64(0); i < 5; i++ {
		publish(t, store, bus, created(t, 1, 100+i))
	}
	for want := int64(1); want <= 5; want++ {
		assert.Equal(t, want, nextEvent(t, sub).Seq)
	}
}

func TestHub_ResumesFromAck(t *testing.T) {
	store := memory.New()
	hub, bus := newTestHub(t, store)
	key := domain.BranchChannel(1)

	sub, err := hub.Open(context.Background(), "b1", key, nil)
	require.NoError(t, err)
	publish(t, store, bus, created(t, 1, 100), created(t, 1, 101))
	assert.Equal(t, int64(1), nextEvent(t, sub).Seq)
	require.NoError(t, sub.Ack(context.Background(), 1))
	require.NoError(t, sub.Close())

	publish(t, store, bus, created(t, 1, 102))

	again, err := hub.Open(context.Background(), "b1", key, nil)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, int64(2), nextEvent(t, again).Seq)
	assert.Equal(t, int64(3), nextEvent(t, again).Seq)
}

func TestHub_ExplicitCursorReplays(t *testing.T) {
	store := memory.New()
	hub, bus := newTestHub(t, store)
	key := domain.BranchChannel(1)
	publish(t, store, bus, created(t, 1, 100), created(t, 1, 101))

	zero := int64(0)
	sub, err := hub.Open(context.Background(), "late", key, &zero)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, int64(1), nextEvent(t, sub).Seq)
	assert.Equal(t, int64(2), nextEvent(t, sub).Seq)
}

func TestHub_NewSubscriberStartsAtHead(t *testing.T) {
	store := memory.New()
	hub, bus := newTestHub(t, store)
	key := domain.BranchChannel(1)
	publish(t, store, bus, created(t, 1, 100))

	sub, err := hub.Open(context.Background(), "fresh", key, nil)
	require.NoError(t, err)
	defer sub.Close()
	publish(t, store, bus, created(t, 1, 101))
	assert.Equal(t, int64(2), nextEvent(t, sub).Seq)
}

func TestSubscription_AckBeyondDeliveredRejected(t *testing.T) {
	store := memory.New()
	hub, _ := newTestHub(t, store)

	sub, err := hub.Open(context.Background(), "b1", domain.BranchChannel(1), nil)
	require.NoError(t, err)
	defer sub.Close()
	err = sub.Ack(context.Background(), 5)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHub_HeartbeatWhenIdle(t *testing.T) {
	store := memory.New()
	hub, _ := newTestHub(t, store)

	sub, err := hub.Open(context.Background(), "b1", domain.BranchChannel(1), nil)
	require.NoError(t, err)
	defer sub.Close()
	select {
	case f := <-sub.Frames():
		assert.True(t, f.Heartbeat)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestHub_ShutdownClosesStreams(t *testing.T) {
	store := memory.New()
	lg := logger.Nop()
	hub := NewHub(store, lg, time.Minute)
	require.NoError(t, hub.Init(context.Background()))

	sub, err := hub.Open(context.Background(), "b1", domain.BranchChannel(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers(domain.BranchChannel(1)))

	hub.Shutdown()
	_, ok := <-sub.Frames()
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers(domain.BranchChannel(1)))

	_, err = hub.Open(context.Background(), "b1", domain.BranchChannel(1), nil)
	assert.ErrorIs(t, err, ErrHubClosed)
}

type recordingRelay struct {
	mu   sync.Mutex
	keys []domain.ChannelKey
	done chan struct{}
}

func (r *recordingRelay) Announce(_ context.Context, keys []domain.ChannelKey) error {
	r.mu.Lock()
	r.keys = append(r.keys, keys...)
	r.mu.Unlock()
	close(r.done)
	return nil
}

func TestBus_AnnouncesAfterCommit(t *testing.T) {
	store := memory.New()
	_, bus := newTestHub(t, store)
	relay := &recordingRelay{done: make(chan struct{})}
	bus.SetRelay(relay)

	publish(t, store, bus, created(t, 2, 1), created(t, 1, 2))

	select {
	case <-relay.done:
	case <-time.After(time.Second):
		t.Fatal("relay not called")
	}
	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, []domain.ChannelKey{domain.BranchChannel(1), domain.BranchChannel(2)}, relay.keys)
}

func TestInboxFor_StockRestoredHasNoInbox(t *testing.T) {
	e, err := domain.NewEvent(domain.BranchChannel(1), domain.EventStockRestored, domain.StockPayload{BranchID: 1})
	require.NoError(t, err)
	bn, cn, err := inboxFor(e)
	require.NoError(t, err)
	assert.Nil(t, bn)
	assert.Nil(t, cn)
}
