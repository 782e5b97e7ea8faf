package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"restaurant-floor/internal/domain"
	"restaurant-floor/internal/microservices/menu/cache"
)

// writeProblem renders err as problem+JSON with the user-facing reason as detail.
func writeProblem(c echo.Context, err error) error {
	code, typ := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, domain.ErrStale):
		code, typ = http.StatusConflict, "stale"
	case errors.Is(err, domain.ErrForbidden):
		code, typ = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrInvalidState):
		code, typ = http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrNotFound):
		code, typ = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidArgument):
		code, typ = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrStoreFailure), errors.Is(err, cache.ErrMenuUnavailable):
		code, typ = http.StatusServiceUnavailable, "store_unavailable"
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(code, domain.ProblemResponse{
		Type:   typ,
		Title:  http.StatusText(code),
		Status: code,
		Detail: domain.Reason(err),
	})
}

func badRequest(detail string) error {
	return &domain.TransitionError{Kind: domain.ErrInvalidArgument, Entity: "request", Detail: detail}
}
