// Package api is the HTTP and WebSocket surface of the engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"cafe-system/internal/auth"
	"cafe-system/internal/availability"
	"cafe-system/internal/catalog"
	"cafe-system/internal/collab"
	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
	"cafe-system/internal/idempotency"
	"cafe-system/internal/notify"
	"cafe-system/internal/order"
	"cafe-system/internal/repository"
	"cafe-system/internal/stock"
)

type Deps struct {
	Store    repository.Reader
	Engine   *order.Engine
	Resolver *availability.Resolver
	Stock    *stock.Store
	Catalog  *catalog.Catalog
	Auth     *auth.Provider
	Hub      *notify.Hub
	Idem     idempotency.Store
	// RateLimit is requests per second per client address; zero disables it.
	RateLimit float64
	Logger    *logger.Logger
}

type Server struct {
	Deps
	e      *echo.Echo
	lg     *logger.Logger
	authed []echo.MiddlewareFunc
}

var _ collab.Transport = (*Server)(nil)

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Idem == nil {
		d.Idem = idempotency.NewMemoryStore(0)
	}
	s := &Server{Deps: d, e: echo.New(), lg: d.Logger}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = errorHandler(s.lg)

	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(logger.WithRequestID(c.Request().Context(), id)))
		},
	}))
	s.e.Use(s.requestLogger())
	if d.RateLimit > 0 {
		s.e.Use(middleware.RateLimiterWithConfig(s.rateLimiter(d.RateLimit)))
	}

	s.authed = []echo.MiddlewareFunc{s.authenticate(), s.identify}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) routes() {
	e := s.e
	a := s.authed

	e.GET("/health", func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]string{"status": "ok"}) })
	e.POST("/auth/refresh", s.refresh)

	e.GET("/menu", s.menu)
	e.GET("/menu/popular", s.popular)

	e.POST("/orders", s.admit, a...)
	e.GET("/orders/:id", s.getOrder, a...)
	e.GET("/orders/:id/timeline", s.timeline, a...)
	e.POST("/orders/:id/advance", s.advance, a...)
	e.POST("/orders/:id/cancel", s.cancel, a...)
	e.GET("/me/orders", s.myOrders, a...)

	e.GET("/branches/:id/orders", s.branchOrders, a...)
	e.GET("/branches/:id/tables", s.tables, a...)
	e.GET("/branches/:id/stock/below-minimal", s.belowMinimal, a...)
	e.POST("/branches/:id/stock/receipts", s.receive, a...)
	e.GET("/branches/:id/notifications", s.branchNotifications, a...)
	e.POST("/branches/:id/notifications/:nid/read", s.markBranchNotification, a...)
	e.DELETE("/branches/:id/notifications/:nid", s.deleteBranchNotification, a...)

	e.GET("/me/notifications", s.myNotifications, a...)
	e.DELETE("/me/notifications/:nid", s.deleteMyNotification, a...)

	e.PUT("/catalog/items/:id/composition", s.replaceComposition, a...)

	e.GET("/streams/branch/:id", s.branchStream, a...)
	e.GET("/streams/user/:id", s.userStream, a...)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := map[string]any{
				"request_id":  v.RequestID,
				"method":      v.Method,
				"uri":         v.URI,
				"status":      v.Status,
				"duration_ms": v.Latency.Milliseconds(),
			}
			if v.Status >= http.StatusInternalServerError {
				s.lg.Error("http_request", v.Error, fields)
				return nil
			}
			s.lg.Debug("http_request", fields)
			return nil
		},
	})
}

func (s *Server) rateLimiter(rps float64) middleware.RateLimiterConfig {
	deny := func(c echo.Context) error {
		return writeProblem(c, http.StatusTooManyRequests, problem{Code: "rate_limited", Message: "rate limit exceeded"})
	}
	return middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(rps),
				Burst:     max(1, int(rps)*2),
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) { return c.RealIP(), nil },
		ErrorHandler:        func(c echo.Context, err error) error { return deny(c) },
		DenyHandler:         func(c echo.Context, identifier string, err error) error { return deny(c) },
	}
}

// authenticate verifies the bearer token. WebSocket clients that cannot set
// headers pass it as ?access_token=.
func (s *Server) authenticate() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		TokenLookup: "header:Authorization:Bearer ,query:access_token",
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			return s.Auth.ParseAccess(token)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			var de *domain.Error
			if errors.As(err, &de) {
				return de
			}
			return domain.Unauthenticatedf("missing or malformed token")
		},
	})
}

// identify loads the token's user so role and branch are always current.
func (s *Server) identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := c.Get("user").(*auth.Claims)
		if !ok {
			return domain.Unauthenticatedf("missing token")
		}
		id, err := claims.UserID()
		if err != nil {
			return err
		}
		u, err := s.Store.GetUser(c.Request().Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Unauthenticatedf("unknown user")
		}
		if err != nil {
			return err
		}
		a := domain.Actor{UserID: u.ID, Role: u.Role, BranchID: u.BranchID}
		ctx := collab.WithCaller(c.Request().Context(), a)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) Caller(ctx context.Context) (domain.Actor, bool) { return collab.CallerFrom(ctx) }

// Open subscribes the caller to key. Each user keeps their own cursor per
// channel.
func (s *Server) Open(ctx context.Context, key domain.ChannelKey, cursor *int64) (collab.Stream, error) {
	a, ok := s.Caller(ctx)
	if !ok {
		return nil, domain.Unauthenticatedf("missing caller")
	}
	if err := canWatch(a, key); err != nil {
		return nil, err
	}
	sub, err := s.Hub.Open(ctx, fmt.Sprintf("user-%d", a.UserID), key, cursor)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func canWatch(a domain.Actor, key domain.ChannelKey) error {
	scope, id, err := key.Parse()
	if err != nil {
		return err
	}
	switch {
	case scope == "branch" && a.WorksAt(id):
		return nil
	case scope == "user" && a.UserID == id:
		return nil
	}
	return domain.Forbiddenf("cannot watch %s", key)
}
