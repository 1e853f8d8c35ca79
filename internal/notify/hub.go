package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
)

var ErrHubClosed = errors.New("subscriber hub is shut down")

// EventLog is the read side the hub replays from.
type EventLog interface {
	ReadChannel(ctx context.Context, key domain.ChannelKey, afterSeq int64, limit int) ([]domain.Event, error)
	ChannelHead(ctx context.Context, key domain.ChannelKey) (int64, error)
	GetCursor(ctx context.Context, subscriberID string, key domain.ChannelKey) (int64, bool, error)
	SaveCursor(ctx context.Context, subscriberID string, key domain.ChannelKey, cursor int64) error
}

// Hub keeps the registry of live subscriptions in this process. Each
// subscription tails its channel from the event log; Notify only tells it
// to look now instead of at the next heartbeat.
type Hub struct {
	log       EventLog
	lg        *logger.Logger
	heartbeat time.Duration
	batch     int

	mu     sync.Mutex
	subs   map[domain.ChannelKey]map[*Subscription]struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(log EventLog, lg *logger.Logger, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{log: log, lg: lg, heartbeat: heartbeat, batch: 100}
}

func (h *Hub) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.subs = map[domain.ChannelKey]map[*Subscription]struct{}{}
	return nil
}

// Shutdown stops every subscription and waits for them to drain.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// Notify wakes local subscribers of the given channels.
func (h *Hub) Notify(keys ...domain.ChannelKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range keys {
		for s := range h.subs[k] {
			s.poke()
		}
	}
}

// Subscribers reports the number of live subscriptions on a channel.
func (h *Hub) Subscribers(key domain.ChannelKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

// Open starts a subscription. With a nil cursor it resumes from the
// subscriber's last acknowledged position, or from the channel head when
// the subscriber has never acknowledged anything.
func (h *Hub) Open(ctx context.Context, subscriberID string, key domain.ChannelKey, cursor *int64) (*Subscription, error) {
	if _, _, err := key.Parse(); err != nil {
		return nil, err
	}
	start, err := h.startCursor(ctx, subscriberID, key, cursor)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.cancel == nil {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	sctx, cancel := context.WithCancel(h.ctx)
	s := &Subscription{
		hub:        h,
		id:         subscriberID,
		key:        key,
		frames:     make(chan domain.StreamFrame, 64),
		wake:       make(chan struct{}, 1),
		delivered:  start,
		ctx:        sctx,
		cancel:     cancel,
		callerDone: ctx.Done(),
	}
	if h.subs[key] == nil {
		h.subs[key] = map[*Subscription]struct{}{}
	}
	h.subs[key][s] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	go s.run()
	h.lg.Debug("subscription_opened", map[string]any{"subscriber": subscriberID, "channel": key, "cursor": start})
	return s, nil
}

func (h *Hub) startCursor(ctx context.Context, subscriberID string, key domain.ChannelKey, cursor *int64) (int64, error) {
	if cursor != nil {
		if *cursor < 0 {
			return 0, domain.Validationf("cursor must not be negative")
		}
		return *cursor, nil
	}
	acked, ok, err := h.log.GetCursor(ctx, subscriberID, key)
	if err != nil {
		return 0, err
	}
	if ok {
		return acked, nil
	}
	return h.log.ChannelHead(ctx, key)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.key)
		}
	}
}

// Subscription delivers one channel's events in seq order, at least once.
type Subscription struct {
	hub *Hub
	id  string
	key domain.ChannelKey

	frames chan domain.StreamFrame
	wake   chan struct{}

	mu        sync.Mutex
	delivered int64

	ctx        context.Context
	cancel     context.CancelFunc
	callerDone <-chan struct{}
}

func (s *Subscription) Frames() <-chan domain.StreamFrame { return s.frames }

func (s *Subscription) Key() domain.ChannelKey { return s.key }

func (s *Subscription) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Ack persists cursor as the subscriber's position. Acknowledging past what
// was delivered is rejected.
func (s *Subscription) Ack(ctx context.Context, cursor int64) error {
	s.mu.Lock()
	delivered := s.delivered
	s.mu.Unlock()
	if cursor < 0 || cursor > delivered {
		return domain.Validationf("cursor %d is beyond delivered seq %d", cursor, delivered)
	}
	return s.hub.log.SaveCursor(ctx, s.id, s.key, cursor)
}

func (s *Subscription) Close() error {
	s.cancel()
	return nil
}

func (s *Subscription) run() {
	defer s.hub.wg.Done()
	defer close(s.frames)
	defer s.hub.remove(s)
	defer s.cancel()

	ticker := time.NewTicker(s.hub.heartbeat)
	defer ticker.Stop()

	for {
		more, err := s.drain()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.hub.lg.Error("subscription_read_failed", err, map[string]any{"subscriber": s.id, "channel": s.key})
		}
		if more {
			continue
		}
		select {
		case <-s.ctx.Done():
			return
		case <-s.callerDone:
			return
		case <-s.wake:
		case now := <-ticker.C:
			// heartbeat doubles as a poll in case a wake-up was lost
			if !s.send(domain.StreamFrame{Heartbeat: true, At: now.UTC()}) {
				return
			}
		}
	}
}

// drain delivers one batch and reports whether the batch was full.
func (s *Subscription) drain() (bool, error) {
	s.mu.Lock()
	from := s.delivered
	s.mu.Unlock()

	events, err := s.hub.log.ReadChannel(s.ctx, s.key, from, s.hub.batch)
	if err != nil {
		return false, err
	}
	for i := range events {
		e := events[i]
		s.mu.Lock()
		s.delivered = e.Seq
		s.mu.Unlock()
		if !s.send(domain.StreamFrame{Event: &e, At: time.Now().UTC()}) {
			return false, s.ctx.Err()
		}
	}
	return len(events) == s.hub.batch, nil
}

func (s *Subscription) send(f domain.StreamFrame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.ctx.Done():
		return false
	case <-s.callerDone:
		return false
	}
}
