package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"restaurant-floor/internal/domain"
)

func (h *Handler) GetMenu(c echo.Context) error {
	if _, err := userFrom(c); err != nil {
		return writeProblem(c, err)
	}
	items, err := h.menu.GetAll(c.Request().Context())
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetMenuItem(c echo.Context) error {
	if _, err := userFrom(c); err != nil {
		return writeProblem(c, err)
	}
	m, err := h.menu.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) GetMenuCategory(c echo.Context) error {
	if _, err := userFrom(c); err != nil {
		return writeProblem(c, err)
	}
	items, err := h.menu.GetByCategory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

// InvalidateMenu is called by the management side after it edits the menu.
func (h *Handler) InvalidateMenu(c echo.Context) error {
	user, err := requireRole(c, domain.RoleManager)
	if err != nil {
		return writeProblem(c, err)
	}
	h.menu.Invalidate()
	h.log.Info("menu_invalidated", map[string]any{"by": user.ID})
	return c.NoContent(http.StatusNoContent)
}
