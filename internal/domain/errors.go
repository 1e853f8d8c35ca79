package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindUnauthenticated   Kind = "unauthenticated"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindTableOccupied     Kind = "table_occupied"
	KindIllegalTransition Kind = "illegal_transition"
	KindInsufficientStock Kind = "insufficient_stock"
	KindContention        Kind = "contention"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
)

// Error is the single error type that crosses package boundaries.
type Error struct {
	Kind          Kind
	Message       string
	Details       map[string]any
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare sentinels below by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrTableOccupied     = &Error{Kind: KindTableOccupied}
	ErrIllegalTransition = &Error{Kind: KindIllegalTransition}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrContention        = &Error{Kind: KindContention}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrInternal          = &Error{Kind: KindInternal}
)

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error { return newf(KindValidation, format, args...) }
func NotFoundf(format string, args ...any) *Error   { return newf(KindNotFound, format, args...) }
func Forbiddenf(format string, args ...any) *Error  { return newf(KindForbidden, format, args...) }
func Unauthenticatedf(format string, args ...any) *Error {
	return newf(KindUnauthenticated, format, args...)
}

func TableOccupied(branchID int64, table int) *Error {
	e := newf(KindTableOccupied, "table %d is occupied", table)
	e.Details = map[string]any{"branch_id": branchID, "table_number": table}
	return e
}

func IllegalTransition(from, to OrderStatus) *Error {
	e := newf(KindIllegalTransition, "cannot move order from %s to %s", from, to)
	e.Details = map[string]any{"from": from, "to": to}
	return e
}

// InsufficientStock names the item, ready product or ingredient that ran short.
func InsufficientStock(ref StockRef) *Error {
	e := newf(KindInsufficientStock, "insufficient stock for %s %d", ref.Kind, ref.ID)
	e.Details = map[string]any{"kind": ref.Kind, "id": ref.ID}
	return e
}

func Contention(err error) *Error {
	return &Error{Kind: KindContention, Message: "concurrent update, try again", Err: err}
}

func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "operation timed out", Err: err}
}

// Internal wraps an unexpected failure and stamps it with a correlation id.
func Internal(err error) *Error {
	var de *Error
	if errors.As(err, &de) && de.Kind == KindInternal {
		return de
	}
	return &Error{Kind: KindInternal, Message: "internal error", CorrelationID: uuid.NewString(), Err: err}
}

// KindOf classifies any error. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// AsError normalises err into *Error, turning deadlines into Timeout and
// everything unknown into Internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	return Internal(err)
}
