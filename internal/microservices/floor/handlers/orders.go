package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"restaurant-floor/internal/domain"
)

var orderRoles = []domain.Role{domain.RoleServer, domain.RoleManager}

func (h *Handler) CreateOrder(c echo.Context) error {
	user, err := requireRole(c, orderRoles...)
	if err != nil {
		return writeProblem(c, err)
	}
	var req domain.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, badRequest("malformed body"))
	}
	if req.TableID == "" {
		return writeProblem(c, badRequest("table_id is required"))
	}

	serverID := req.ServerID
	switch user.Role {
	case domain.RoleServer:
		if serverID != "" && serverID != user.ID {
			return writeProblem(c, &domain.TransitionError{
				Kind: domain.ErrForbidden, Entity: "order", Detail: "servers open orders for themselves",
			})
		}
		serverID = user.ID
	case domain.RoleManager:
		if serverID == "" {
			serverID = user.ID
		}
	}

	o, err := h.orders.CreateOrder(c.Request().Context(), req.TableID, serverID)
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOrder(c echo.Context) error {
	if _, err := userFrom(c); err != nil {
		return writeProblem(c, err)
	}
	o, err := h.orders.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) AddItem(c echo.Context) error {
	if _, err := requireRole(c, orderRoles...); err != nil {
		return writeProblem(c, err)
	}
	var req domain.AddItemRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, badRequest("malformed body"))
	}
	it, err := h.orders.AddItem(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusCreated, it)
}

func (h *Handler) StartPreparation(c echo.Context) error {
	return h.orderStep(c, h.orders.StartPreparation)
}

func (h *Handler) MarkReady(c echo.Context) error {
	return h.orderStep(c, h.orders.MarkReady)
}

func (h *Handler) MarkDelivered(c echo.Context) error {
	return h.orderStep(c, h.orders.MarkDelivered)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	return h.orderStep(c, h.orders.CancelOrder)
}

func (h *Handler) orderStep(c echo.Context, step func(ctx context.Context, orderID string) (domain.Order, error)) error {
	if _, err := requireRole(c, orderRoles...); err != nil {
		return writeProblem(c, err)
	}
	o, err := step(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ProcessPayment(c echo.Context) error {
	if _, err := requireRole(c, orderRoles...); err != nil {
		return writeProblem(c, err)
	}
	var req domain.PaymentRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, badRequest("malformed body"))
	}
	o, err := h.orders.ProcessPayment(c.Request().Context(), c.Param("id"), req.Method, req.Tip)
	if err != nil {
		return writeProblem(c, err)
	}
	return c.JSON(http.StatusOK, o)
}
