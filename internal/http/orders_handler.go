package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/himpar21/medisync/internal/domain"
	"go.uber.org/zap"
)

type OrderService interface {
	ListOrders(ctx context.Context, actor domain.Actor) ([]domain.Order, error)
	GetOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, orderID string, next domain.OrderStatus, note string) (*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderService
	logger  *zap.Logger
	timeout time.Duration
}

func NewOrdersHandler(orders OrderService, logger *zap.Logger, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		logger:  logger,
		timeout: timeout,
	}
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type OrdersResponse struct {
	Items []domain.Order `json:"items"`
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	orders, err := h.orders.ListOrders(ctx, actor)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	respondJSON(w, http.StatusOK, OrdersResponse{Items: orders})
}

// GET /api/v1/orders/{orderId}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	order, err := h.orders.GetOrder(ctx, actor, chi.URLParam(r, "orderId"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, OrderResponse{Order: order})
}

// PATCH /api/v1/orders/{orderId}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req UpdateStatusRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.orders.UpdateStatus(ctx, actor, chi.URLParam(r, "orderId"), domain.OrderStatus(req.Status), req.Note)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, OrderResponse{Message: "Order status updated", Order: order})
}
