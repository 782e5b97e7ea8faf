package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"restaurant-floor/internal/domain"
)

func (h *Handler) KitchenTimers(c echo.Context) error {
	if _, err := userFrom(c); err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, h.kitchen.Snapshots())
}

func (h *Handler) KitchenTimer(c echo.Context) error {
	if _, err := userFrom(c); err != nil {
		return writeProblem(c, err)
	}
	id := c.Param("order_id")
	s, ok := h.kitchen.Elapsed(id)
	if !ok {
		return writeProblem(c, &domain.TransitionError{
			Kind: domain.ErrNotFound, Entity: "order", ID: id, Detail: "no kitchen timer",
		})
	}
	return c.JSON(http.StatusOK, s)
}
