package api

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"cafe-system/internal/collab"
	"cafe-system/internal/domain"
)

// caller is set by identify on every authenticated route.
func caller(c echo.Context) domain.Actor {
	a, _ := collab.CallerFrom(c.Request().Context())
	return a
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validationf("bad %s %q", name, c.Param(name))
	}
	return id, nil
}

// atoiDefault: число из query или значение по умолчанию
func atoiDefault(c echo.Context, name string, d int) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return d, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, domain.Validationf("bad %s %q", name, s)
	}
	return n, nil
}

func queryID(c echo.Context, name string) (int64, error) {
	s := c.QueryParam(name)
	if s == "" {
		return 0, domain.Validationf("%s is required", name)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validationf("bad %s %q", name, s)
	}
	return id, nil
}

// orderFilter reads ?status=new,ready&limit=&offset=.
func orderFilter(c echo.Context) (domain.OrderFilter, error) {
	var f domain.OrderFilter
	if raw := c.QueryParam("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := domain.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	var err error
	if f.Limit, err = atoiDefault(c, "limit", 50); err != nil {
		return f, err
	}
	if f.Offset, err = atoiDefault(c, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return domain.Validationf("malformed request body")
	}
	return nil
}

// staffOf rejects callers who do not work at the branch.
func staffOf(c echo.Context, branchID int64) error {
	if a := caller(c); !a.WorksAt(branchID) {
		return domain.Forbiddenf("%s does not work at branch %d", a.Role, branchID)
	}
	return nil
}
