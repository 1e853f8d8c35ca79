package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated      EventType = "OrderCreated"
	EventOrderAdvanced     EventType = "OrderAdvanced"
	EventOrderCancelled    EventType = "OrderCancelled"
	EventStockBelowMinimum EventType = "StockBelowMinimum"
	EventStockRestored     EventType = "StockRestored"
	EventOrderReminder     EventType = "OrderReminder"
)

// ChannelKey names an event stream: "branch/{id}" or "user/{id}".
type ChannelKey string

const (
	scopeBranch = "branch"
	scopeUser   = "user"
)

func BranchChannel(id int64) ChannelKey { return ChannelKey(fmt.Sprintf("%s/%d", scopeBranch, id)) }
func UserChannel(id int64) ChannelKey   { return ChannelKey(fmt.Sprintf("%s/%d", scopeUser, id)) }

// Parse splits the key into its scope and numeric id.
func (k ChannelKey) Parse() (scope string, id int64, err error) {
	scope, raw, ok := strings.Cut(string(k), "/")
	if !ok || (scope != scopeBranch && scope != scopeUser) {
		return "", 0, Validationf("bad channel key %q", k)
	}
	id, err = strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, Validationf("bad channel key %q", k)
	}
	return scope, id, nil
}

func (k ChannelKey) IsBranch() bool { return strings.HasPrefix(string(k), scopeBranch+"/") }
func (k ChannelKey) IsUser() bool   { return strings.HasPrefix(string(k), scopeUser+"/") }

// RoutingKey is the broker form of the key ("branch.7").
func (k ChannelKey) RoutingKey() string { return strings.ReplaceAll(string(k), "/", ".") }

func ChannelFromRoutingKey(rk string) ChannelKey { return ChannelKey(strings.Replace(rk, ".", "/", 1)) }

// Event is one entry of a channel's durable log. Seq is assigned on append.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Channel   ChannelKey      `json:"channel"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"ts"`
}

func NewEvent(ch ChannelKey, typ EventType, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{ID: uuid.New(), Channel: ch, Type: typ, Payload: b, CreatedAt: time.Now().UTC()}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

type OrderCreatedPayload struct {
	OrderID     int64           `json:"order_id"`
	BranchID    int64           `json:"branch_id"`
	CustomerID  int64           `json:"customer_id"`
	TableNumber *int            `json:"table_number,omitempty"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Lines       int             `json:"lines"`
}

type OrderAdvancedPayload struct {
	OrderID  int64       `json:"order_id"`
	BranchID int64       `json:"branch_id"`
	From     OrderStatus `json:"from"`
	To       OrderStatus `json:"to"`
	Actor    Role        `json:"actor"`
}

type OrderCancelledPayload struct {
	OrderID  int64       `json:"order_id"`
	BranchID int64       `json:"branch_id"`
	From     OrderStatus `json:"from"`
	Actor    Role        `json:"actor"`
	Refunded int64       `json:"refunded_points"`
}

type StockPayload struct {
	BranchID  int64           `json:"branch_id"`
	Ref       StockRef        `json:"ref"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Threshold decimal.Decimal `json:"threshold"`
}

type OrderReminderPayload struct {
	OrderID  int64 `json:"order_id"`
	BranchID int64 `json:"branch_id"`
	Waiting  int64 `json:"waiting_seconds"`
}

// StreamFrame is what a live subscriber receives: an event or a heartbeat.
type StreamFrame struct {
	Event     *Event
	Heartbeat bool
	At        time.Time
}
