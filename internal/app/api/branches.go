package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cafe-system/internal/domain"
	"cafe-system/internal/order"
)

func (s *Server) branchOrders(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	f, err := orderFilter(c)
	if err != nil {
		return err
	}
	orders, err := s.Engine.ListForBranch(c.Request().Context(), caller(c), id, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOrders(orders))
}

func (s *Server) tables(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ts, err := s.Engine.OccupiedTables(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(ts))
}

func (s *Server) belowMinimal(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := staffOf(c, id); err != nil {
		return err
	}
	ctx := c.Request().Context()
	v, err := s.Catalog.View(ctx)
	if err != nil {
		return err
	}
	rows, err := s.Stock.BelowMinimal(ctx, id, v)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) receive(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req order.ReceiveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	snap, err := s.Engine.ReceiveStock(c.Request().Context(), caller(c), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewStock(snap))
}

func (s *Server) branchNotifications(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := staffOf(c, id); err != nil {
		return err
	}
	limit, err := atoiDefault(c, "limit", 50)
	if err != nil {
		return err
	}
	unread := c.QueryParam("unread") == "true"
	ns, err := s.Store.ListBranchNotifications(c.Request().Context(), id, unread, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(ns))
}

func (s *Server) markBranchNotification(c echo.Context) error {
	id, nid, err := s.branchNote(c)
	if err != nil {
		return err
	}
	if err := s.Store.MarkBranchNotificationRead(c.Request().Context(), id, nid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteBranchNotification(c echo.Context) error {
	id, nid, err := s.branchNote(c)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteBranchNotification(c.Request().Context(), id, nid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) branchNote(c echo.Context) (branchID, noteID int64, err error) {
	if branchID, err = pathID(c, "id"); err != nil {
		return
	}
	if noteID, err = pathID(c, "nid"); err != nil {
		return
	}
	err = staffOf(c, branchID)
	return
}

func (s *Server) myNotifications(c echo.Context) error {
	limit, err := atoiDefault(c, "limit", 50)
	if err != nil {
		return err
	}
	ns, err := s.Store.ListClientNotifications(c.Request().Context(), caller(c).UserID, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(ns))
}

func (s *Server) deleteMyNotification(c echo.Context) error {
	nid, err := pathID(c, "nid")
	if err != nil {
		return err
	}
	if err := s.Store.DeleteClientNotification(c.Request().Context(), caller(c).UserID, nid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type compositionRequest struct {
	Components []domain.Composition `json:"components"`
}

func (s *Server) replaceComposition(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req compositionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	for i := range req.Components {
		req.Components[i].ItemID = id
	}
	if err := s.Engine.ReplaceRecipe(c.Request().Context(), caller(c), id, req.Components); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, compositionRequest{Components: nonNil(req.Components)})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.RefreshToken == "" {
		return domain.Validationf("refresh_token is required")
	}
	toks, err := s.Auth.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toks)
}
