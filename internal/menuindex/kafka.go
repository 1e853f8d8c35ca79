// Package menuindex keeps the external menu search index in step with what
// each branch can actually make.
package menuindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"cafe-system/internal/common/config"
	"cafe-system/internal/common/logger"
)

const (
	opUpsert = "upsert"
	opDelete = "delete"
)

// message is what index consumers read from the topic. Messages for one
// (branch, item) pair share a key and so stay ordered on one partition.
type message struct {
	Op       string          `json:"op"`
	ItemID   int64           `json:"item_id"`
	BranchID int64           `json:"branch_id"`
	Entry    json.RawMessage `json:"entry,omitempty"`
	At       time.Time       `json:"ts"`
}

// KafkaIndex publishes index changes to a Kafka topic.
type KafkaIndex struct {
	w  *kafka.Writer
	lg *logger.Logger
}

func NewKafkaIndex(cfg config.Kafka, lg *logger.Logger) *KafkaIndex {
	return &KafkaIndex{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		lg: lg,
	}
}

func key(itemID, branchID int64) []byte {
	return []byte(fmt.Sprintf("menu-%d-%d", branchID, itemID))
}

func (k *KafkaIndex) write(ctx context.Context, m message) error {
	m.At = time.Now().UTC()
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: key(m.ItemID, m.BranchID), Value: body}); err != nil {
		return fmt.Errorf("kafka write %s item %d: %w", m.Op, m.ItemID, err)
	}
	return nil
}

func (k *KafkaIndex) Upsert(ctx context.Context, itemID, branchID int64, payload []byte) error {
	return k.write(ctx, message{Op: opUpsert, ItemID: itemID, BranchID: branchID, Entry: payload})
}

func (k *KafkaIndex) Delete(ctx context.Context, itemID, branchID int64) error {
	return k.write(ctx, message{Op: opDelete, ItemID: itemID, BranchID: branchID})
}

func (k *KafkaIndex) Close() error {
	return k.w.Close()
}
