package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"cafe-system/internal/common/logger"
	"cafe-system/internal/common/mq"
	"cafe-system/internal/domain"
)

// AMQPRelay announces channel activity on a topic exchange with routing
// keys "branch.<id>" and "user.<id>", and wakes the local hub when any
// process announces.
type AMQPRelay struct {
	client   *mq.Client
	exchange string
	lg       *logger.Logger
}

func NewAMQPRelay(client *mq.Client, exchange string, lg *logger.Logger) (*AMQPRelay, error) {
	if err := client.DeclareTopic(exchange); err != nil {
		return nil, err
	}
	return &AMQPRelay{client: client, exchange: exchange, lg: lg}, nil
}

func (r *AMQPRelay) Announce(ctx context.Context, keys []domain.ChannelKey) error {
	for _, k := range keys {
		if err := r.client.Publish(ctx, r.exchange, k.RoutingKey(), encodeAnnouncement(k)); err != nil {
			return err
		}
	}
	return nil
}

// Listen forwards announcements to hub until ctx is done.
func (r *AMQPRelay) Listen(ctx context.Context, hub *Hub) error {
	msgs, stop, err := r.client.Subscribe(r.exchange, "hub-"+uuid.NewString(), "branch.*", "user.*")
	if err != nil {
		return err
	}
	defer stop()
	r.lg.Info("relay_listening", map[string]any{"exchange": r.exchange})

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			key := domain.ChannelFromRoutingKey(d.RoutingKey)
			var a announcement
			if err := json.Unmarshal(d.Body, &a); err == nil && a.Channel != "" {
				key = a.Channel
			}
			hub.Notify(key)
		}
	}
}
