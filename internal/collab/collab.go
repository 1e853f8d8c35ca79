// Package collab names the services the engine talks to but does not own.
package collab

import (
	"context"
	"time"

	"cafe-system/internal/domain"
)

// SmsGateway delivers verification and marketing texts. Used only by the
// registration flow, which lives outside this service.
type SmsGateway interface {
	Send(ctx context.Context, phone, text string) (deliveryID string, err error)
}

type Tokens struct {
	Access           string    `json:"access_token"`
	Refresh          string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type AuthProvider interface {
	UserOf(ctx context.Context, token string) (int64, error)
	IssueTokens(ctx context.Context, userID int64) (Tokens, error)
}

// MenuIndex is the external search index of menu entries per branch.
type MenuIndex interface {
	Upsert(ctx context.Context, itemID, branchID int64, payload []byte) error
	Delete(ctx context.Context, itemID, branchID int64) error
}

// Stream is an open realtime subscription.
type Stream interface {
	Frames() <-chan domain.StreamFrame
	Ack(ctx context.Context, cursor int64) error
	Close() error
}

// Transport carries caller identity into the engine and opens streams.
type Transport interface {
	Caller(ctx context.Context) (domain.Actor, bool)
	Open(ctx context.Context, key domain.ChannelKey, cursor *int64) (Stream, error)
}

type callerKey struct{}

// WithCaller attaches the authenticated actor to ctx.
func WithCaller(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, callerKey{}, a)
}

func CallerFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(callerKey{}).(domain.Actor)
	return a, ok
}
