package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"restaurant-floor/internal/domain"
)

func (h *Handler) ListTables(c echo.Context) error {
	if _, err := userFrom(c); err != nil {
		return writeProblem(c, err)
	}
	ts, err := h.tables.ListTables(c.Request().Context())
	if err != nil {
		return writeProblem(c, err)
	}
	if ts == nil {
		ts = []domain.Table{}
	}
	return c.JSON(http.StatusOK, ts)
}

func (h *Handler) GetTable(c echo.Context) error {
	if _, err := userFrom(c); err != nil {
		return writeProblem(c, err)
	}
	t, err := h.tables.GetTable(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) TableOrder(c echo.Context) error {
	if _, err := userFrom(c); err != nil {
		return writeProblem(c, err)
	}
	o, err := h.orders.OpenOrderForTable(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) TransitionTable(c echo.Context) error {
	user, err := userFrom(c)
	if err != nil {
		return writeProblem(c, err)
	}
	var req domain.TableTransitionRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, badRequest("malformed body"))
	}

	// the view must say which status it acted on, so a lost race comes back stale
	if req.Expected == nil {
		return writeProblem(c, badRequest("expected is required"))
	}
	t, err := h.tables.RequestTransitionFrom(c.Request().Context(), c.Param("id"), *req.Expected, req.Status, user)
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, t)
}
