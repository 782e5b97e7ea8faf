package handlers

import (
	"context"
	"net/http"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
	"restaurant-floor/internal/microservices/floor/broadcast"
	"restaurant-floor/internal/microservices/kitchen/timer"
)

type TableService interface {
	GetTable(ctx context.Context, id string) (domain.Table, error)
	ListTables(ctx context.Context) ([]domain.Table, error)
	RequestTransitionFrom(ctx context.Context, tableID string, expected, to domain.TableStatus, user domain.User) (domain.Table, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, tableID, serverID string) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	OpenOrderForTable(ctx context.Context, tableID string) (domain.Order, error)
	AddItem(ctx context.Context, orderID string, req domain.AddItemRequest) (domain.OrderItem, error)
	StartPreparation(ctx context.Context, orderID string) (domain.Order, error)
	MarkReady(ctx context.Context, orderID string) (domain.Order, error)
	MarkDelivered(ctx context.Context, orderID string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (domain.Order, error)
	ProcessPayment(ctx context.Context, orderID string, method domain.PaymentMethod, tip float64) (domain.Order, error)
}

type MenuService interface {
	GetAll(ctx context.Context) ([]*domain.MenuItem, error)
	GetByID(ctx context.Context, id string) (*domain.MenuItem, error)
	GetByCategory(ctx context.Context, categoryID string) ([]*domain.MenuItem, error)
	Invalidate()
}

type KitchenView interface {
	Elapsed(orderID string) (timer.Snapshot, bool)
	Snapshots() []timer.Snapshot
}

type Handler struct {
	tables  TableService
	orders  OrderService
	menu    MenuService
	kitchen KitchenView
	reg     *broadcast.Registry
	log     *logger.Logger
}

func New(tables TableService, orders OrderService, menu MenuService, kitchen KitchenView,
	reg *broadcast.Registry, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{tables: tables, orders: orders, menu: menu, kitchen: kitchen, reg: reg, log: log}
}

// Router builds the echo instance: /health is open, everything under /api/v1 needs a bearer token.
func Router(h *Handler, httpCfg config.HTTP, auth config.Auth) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	limiter := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(httpCfg.RateLimit),
				Burst:     httpCfg.Burst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, domain.ProblemResponse{
				Type: "forbidden", Title: http.StatusText(http.StatusForbidden), Status: http.StatusForbidden,
				Detail: "could not identify caller",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, domain.ProblemResponse{
				Type: "rate_limited", Title: http.StatusText(http.StatusTooManyRequests), Status: http.StatusTooManyRequests,
				Detail: "rate limit exceeded",
			})
		},
	}

	e.Use(middleware.Recover())
	e.Use(h.requestLog)
	e.Use(middleware.RateLimiterWithConfig(limiter))

	e.GET("/health", h.Health)

	api := e.Group("/api/v1", echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(auth.JWTSecret),
		NewClaimsFunc: newClaims,
		ErrorHandler: func(c echo.Context, err error) error {
			c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
			return c.JSON(http.StatusUnauthorized, domain.ProblemResponse{
				Type: "unauthorized", Title: http.StatusText(http.StatusUnauthorized), Status: http.StatusUnauthorized,
				Detail: "missing or invalid token",
			})
		},
	}))

	api.GET("/tables", h.ListTables)
	api.GET("/tables/:id", h.GetTable)
	api.GET("/tables/:id/order", h.TableOrder)
	api.POST("/tables/:id/status", h.TransitionTable)

	api.POST("/orders", h.CreateOrder)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/items", h.AddItem)
	api.POST("/orders/:id/start", h.StartPreparation)
	api.POST("/orders/:id/ready", h.MarkReady)
	api.POST("/orders/:id/deliver", h.MarkDelivered)
	api.POST("/orders/:id/cancel", h.CancelOrder)
	api.POST("/orders/:id/payment", h.ProcessPayment)

	api.GET("/menu", h.GetMenu)
	api.GET("/menu/items/:id", h.GetMenuItem)
	api.GET("/menu/categories/:id", h.GetMenuCategory)
	api.POST("/menu/invalidate", h.InvalidateMenu)

	api.GET("/kitchen/timers", h.KitchenTimers)
	api.GET("/kitchen/timers/:order_id", h.KitchenTimer)

	return e
}

func (h *Handler) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		h.log.Debug("http_request", map[string]any{
			"method": c.Request().Method, "path": c.Path(), "status": c.Response().Status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "floor-service",
		"time":      time.Now().UTC().Format(time.RFC3339),
		"broadcast": h.reg.Stats(),
	})
}
