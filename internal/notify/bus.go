package notify

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
	"cafe-system/internal/repository"
)

// Relay tells other processes that channels have new events.
type Relay interface {
	Announce(ctx context.Context, keys []domain.ChannelKey) error
}

// Bus appends events to the durable per-channel log inside the caller's
// transaction. Live subscribers are woken only after commit.
type Bus struct {
	hub          *Hub
	relay        Relay
	lg           *logger.Logger
	relayTimeout time.Duration
}

func NewBus(hub *Hub, lg *logger.Logger) *Bus {
	return &Bus{hub: hub, lg: lg, relayTimeout: 5 * time.Second}
}

func (b *Bus) SetRelay(r Relay) { b.relay = r }

// Publish writes events and their inbox projections. Events are appended
// grouped by channel key so concurrent publishers take channel head locks
// in the same order; order within a channel is preserved.
func (b *Bus) Publish(ctx context.Context, tx repository.Tx, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	evs := append([]domain.Event(nil), events...)
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Channel < evs[j].Channel })

	var keys []domain.ChannelKey
	for i := range evs {
		if err := tx.AppendEvent(ctx, &evs[i]); err != nil {
			return err
		}
		if len(keys) == 0 || keys[len(keys)-1] != evs[i].Channel {
			keys = append(keys, evs[i].Channel)
		}
		if err := b.project(ctx, tx, evs[i]); err != nil {
			return err
		}
	}
	tx.OnCommit(func() { b.wake(keys) })
	return nil
}

func (b *Bus) project(ctx context.Context, tx repository.Tx, e domain.Event) error {
	bn, cn, err := inboxFor(e)
	if err != nil {
		return err
	}
	if bn != nil {
		if err := tx.InsertBranchNotification(ctx, bn); err != nil {
			return err
		}
	}
	if cn != nil {
		if err := tx.InsertClientNotification(ctx, cn); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) wake(keys []domain.ChannelKey) {
	if b.hub != nil {
		b.hub.Notify(keys...)
	}
	if b.relay == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.relayTimeout)
		defer cancel()
		if err := b.relay.Announce(ctx, keys); err != nil {
			b.lg.Error("relay_announce_failed", err, map[string]any{"channels": keys})
		}
	}()
}

type announcement struct {
	Channel domain.ChannelKey `json:"channel"`
}

func encodeAnnouncement(k domain.ChannelKey) []byte {
	b, _ := json.Marshal(announcement{Channel: k})
	return b
}
