package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
)

// problem is the error envelope every failing endpoint returns.
type problem struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

func statusOf(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindTableOccupied, domain.KindIllegalTransition:
		return http.StatusConflict
	case domain.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case domain.KindContention:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeProblem отдаёт ошибку в едином формате
func writeProblem(c echo.Context, code int, p problem) error {
	if c.Response().Committed {
		return nil
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(code)
	}
	return c.JSON(code, p)
}

// errorHandler renders domain errors and echo's own HTTP errors as problems.
func errorHandler(lg *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var de *domain.Error
		var he *echo.HTTPError
		if !errors.As(err, &de) && errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			_ = writeProblem(c, he.Code, problem{Code: codeForStatus(he.Code), Message: msg})
			return
		}
		de = domain.AsError(err)
		if de.Kind == domain.KindInternal {
			lg.FromContext(c.Request().Context()).Error("request_failed", de.Err, map[string]any{
				"correlation_id": de.CorrelationID,
				"path":           c.Path(),
			})
			_ = writeProblem(c, http.StatusInternalServerError, problem{
				Code:          string(domain.KindInternal),
				Message:       "internal error",
				CorrelationID: de.CorrelationID,
			})
			return
		}
		msg := de.Message
		if msg == "" {
			msg = string(de.Kind)
		}
		_ = writeProblem(c, statusOf(de.Kind), problem{Code: string(de.Kind), Message: msg, Details: de.Details})
	}
}

func codeForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return string(domain.KindValidation)
	case http.StatusUnauthorized:
		return string(domain.KindUnauthenticated)
	case http.StatusForbidden:
		return string(domain.KindForbidden)
	case http.StatusNotFound:
		return string(domain.KindNotFound)
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	}
	return string(domain.KindInternal)
}
