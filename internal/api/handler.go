package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/videostore/rental-service/internal/domain"
	"github.com/videostore/rental-service/internal/events"
	"github.com/videostore/rental-service/internal/service"
)

// RentalService is the part of the core the HTTP surface drives
type RentalService interface {
	RentMovies(ctx context.Context, customer *domain.Customer, movies []domain.Movie) (*domain.Rental, error)
	ExtendRental(ctx context.Context, rental *domain.Rental, days int) (*domain.Rental, error)
	GetRental(ctx context.Context, id uuid.UUID) (*domain.Rental, error)
	NotifyOverdue(ctx context.Context) error
}

// Denylist manages customers refused by the credit check
type Denylist interface {
	Deny(ctx context.Context, customer *domain.Customer) error
	Allow(ctx context.Context, customer *domain.Customer) error
}

// ReturnPublisher announces returned rentals on the returns feed
type ReturnPublisher interface {
	PublishRentalReturned(ctx context.Context, event *events.RentalReturnedEvent) error
}

type Handler struct {
	svc       RentalService
	denylist  Denylist
	publisher ReturnPublisher
	clock     service.Clock
	logger    *zap.Logger
}

// HandlerOption customizes a Handler
type HandlerOption func(*Handler)

// WithClock sets the clock used to stamp returns
func WithClock(c service.Clock) HandlerOption {
	return func(h *Handler) { h.clock = c }
}

// NewHandler creates the HTTP handler. denylist and publisher may be nil,
// in which case their routes are not registered.
func NewHandler(svc RentalService, denylist Denylist, publisher ReturnPublisher, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:       svc,
		denylist:  denylist,
		publisher: publisher,
		clock:     service.NewSystemClock(time.UTC),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type RentRequest struct {
	Customer *domain.Customer `json:"customer"`
	Movies   []domain.Movie   `json:"movies"`
}

type ExtendRequest struct {
	Days int `json:"days"`
}

type ErrorResponse struct {
	Code  domain.ErrorCode `json:"code"`
	Error string           `json:"error"`
}

func (h *Handler) RentMovies(c echo.Context) error {
	var req RentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	rental, err := h.svc.RentMovies(c.Request().Context(), req.Customer, req.Movies)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusCreated, rental)
}

func (h *Handler) GetRental(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid rental id")
	}

	rental, err := h.svc.GetRental(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, rental)
}

func (h *Handler) ExtendRental(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid rental id")
	}

	var req ExtendRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	ctx := c.Request().Context()
	rental, err := h.svc.GetRental(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}

	ext, err := h.svc.ExtendRental(ctx, rental, req.Days)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusCreated, ext)
}

func (h *Handler) ReturnRental(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid rental id")
	}

	ctx := c.Request().Context()
	rental, err := h.svc.GetRental(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}

	event := events.NewRentalReturnedEvent(rental.ID, h.clock.Now())
	if err := h.publisher.PublishRentalReturned(ctx, event); err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusAccepted, event)
}

func (h *Handler) NotifyOverdue(c echo.Context) error {
	if err := h.svc.NotifyOverdue(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) DenyCustomer(c echo.Context) error {
	customer := &domain.Customer{Name: c.Param("name")}
	if err := h.denylist.Deny(c.Request().Context(), customer); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AllowCustomer(c echo.Context) error {
	customer := &domain.Customer{Name: c.Param("name")}
	if err := h.denylist.Allow(c.Request().Context(), customer); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// fail writes err as {code, error}. Internal failures get a generic message.
func (h *Handler) fail(c echo.Context, err error) error {
	code := domain.ErrorToCode(err)
	status := statusFor(code)

	msg := err.Error()
	var de *domain.DomainError
	if !errors.As(err, &de) {
		if status >= http.StatusInternalServerError {
			h.logger.Error("Request failed",
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			msg = "internal error"
		}
	}

	return c.JSON(status, ErrorResponse{Code: code, Error: msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Code: domain.CodeValidationFailed, Error: msg})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidationFailed:
		return http.StatusBadRequest
	case domain.CodeOutOfStock:
		return http.StatusConflict
	case domain.CodeCustomerDenied:
		return http.StatusForbidden
	case domain.CodeRentalNotFound:
		return http.StatusNotFound
	case domain.CodeCreditCheckUnavailable, domain.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func RegisterRoutes(e *echo.Echo, h *Handler, mw ...echo.MiddlewareFunc) {
	e.GET("/health", h.Health)

	api := e.Group("/api/v1", mw...)
	api.POST("/rentals", h.RentMovies)
	api.GET("/rentals/:id", h.GetRental)
	api.POST("/rentals/:id/extensions", h.ExtendRental)
	api.POST("/overdue-notifications", h.NotifyOverdue)

	if h.publisher != nil {
		api.POST("/rentals/:id/returns", h.ReturnRental)
	}
	if h.denylist != nil {
		api.PUT("/denylist/:name", h.DenyCustomer)
		api.DELETE("/denylist/:name", h.AllowCustomer)
	}
}
