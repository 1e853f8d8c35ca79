package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) menu(c echo.Context) error {
	branchID, err := queryID(c, "branchId")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.Store.GetBranch(ctx, branchID); err != nil {
		return err
	}
	m, err := s.Resolver.MakeableMenu(ctx, branchID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) popular(c echo.Context) error {
	branchID, err := queryID(c, "branchId")
	if err != nil {
		return err
	}
	limit, err := atoiDefault(c, "limit", 10)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.Store.GetBranch(ctx, branchID); err != nil {
		return err
	}
	items, err := s.Resolver.PopularItems(ctx, branchID, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}
