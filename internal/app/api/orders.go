package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"cafe-system/internal/domain"
	"cafe-system/internal/order"
)

const headerIdempotencyKey = "Idempotency-Key"

// admit places an order. A repeated Idempotency-Key from the same caller
// replays the first successful response.
func (s *Server) admit(c echo.Context) error {
	var req order.AdmitRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	a := caller(c)

	key := c.Request().Header.Get(headerIdempotencyKey)
	if key == "" {
		o, err := s.Engine.Admit(ctx, a, req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, viewOrder(o))
	}

	scoped := fmt.Sprintf("%d:%s", a.UserID, key)
	rec, ok, err := s.Idem.Reserve(ctx, scoped)
	if err != nil {
		return domain.Internal(err)
	}
	if !ok {
		if !rec.Done {
			return domain.Contention(errors.New("a request with this idempotency key is still running"))
		}
		c.Response().Header().Set("Idempotent-Replayed", "true")
		return c.JSONBlob(rec.Status, rec.Body)
	}

	// the reservation outlives a client that hangs up mid-request
	bg := context.WithoutCancel(ctx)
	o, err := s.Engine.Admit(ctx, a, req)
	if err != nil {
		if rerr := s.Idem.Release(bg, scoped); rerr != nil {
			s.lg.FromContext(ctx).Warn("idempotency_release_failed", map[string]any{"key": key, "error": rerr.Error()})
		}
		return err
	}
	body, err := json.Marshal(viewOrder(o))
	if err != nil {
		return domain.Internal(err)
	}
	if err := s.Idem.Complete(bg, scoped, http.StatusCreated, body); err != nil {
		s.lg.FromContext(ctx).Warn("idempotency_store_failed", map[string]any{"key": key, "order_id": o.ID, "error": err.Error()})
	}
	return c.JSONBlob(http.StatusCreated, body)
}

func (s *Server) getOrder(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	o, err := s.Engine.Get(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOrder(o))
}

func (s *Server) timeline(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	log, err := s.Engine.Timeline(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(log))
}

type advanceRequest struct {
	Target domain.OrderStatus `json:"target"`
}

func (s *Server) advance(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req advanceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	target, err := domain.ParseStatus(string(req.Target))
	if err != nil {
		return err
	}
	switch target {
	case domain.StatusInProgress, domain.StatusReady, domain.StatusCompleted:
	default:
		// отмена идёт через /cancel
		return domain.Validationf("target must be in_progress, ready or completed, got %q", target)
	}
	o, err := s.Engine.Advance(c.Request().Context(), id, target, caller(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOrder(o))
}

func (s *Server) cancel(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	o, err := s.Engine.Cancel(c.Request().Context(), id, caller(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOrder(o))
}

func (s *Server) myOrders(c echo.Context) error {
	f, err := orderFilter(c)
	if err != nil {
		return err
	}
	orders, err := s.Engine.ListForCustomer(c.Request().Context(), caller(c).UserID, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOrders(orders))
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
