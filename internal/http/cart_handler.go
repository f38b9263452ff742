package http

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/himpar21/medisync/internal/domain"
	"go.uber.org/zap"
)

type CartService interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, medicineID string, quantity int) (*domain.Cart, error)
	SetQuantity(ctx context.Context, userID, medicineID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, medicineID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
}

type CartHandler struct {
	carts   CartService
	logger  *zap.Logger
	timeout time.Duration
}

func NewCartHandler(carts CartService, logger *zap.Logger, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		logger:  logger,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	MedicineID string   `json:"medicineId"`
	Quantity   *float64 `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *float64 `json:"quantity"`
}

type CartItemDTO struct {
	MedicineID   string  `json:"medicineId"`
	MedicineName string  `json:"medicineName"`
	Category     string  `json:"category"`
	UnitPrice    float64 `json:"unitPrice"`
	Quantity     int     `json:"quantity"`
	LineTotal    float64 `json:"lineTotal"`
}

// CartDTO is the client view of a cart; lock state stays server-side.
type CartDTO struct {
	UserID     string        `json:"userId"`
	Items      []CartItemDTO `json:"items"`
	TotalItems int           `json:"totalItems"`
	Subtotal   float64       `json:"subtotal"`
	Currency   string        `json:"currency"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

type CartResponse struct {
	Cart CartDTO `json:"cart"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	cart, err := h.carts.GetCart(ctx, actor.UserID)
	h.respondCart(w, cart, err)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req AddItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cart, err := h.carts.AddItem(ctx, actor.UserID, strings.TrimSpace(req.MedicineID), quantityOr(req.Quantity, 1))
	h.respondCart(w, cart, err)
}

// PATCH /api/v1/cart/items/{medicineId}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	medicineID := strings.TrimSpace(chi.URLParam(r, "medicineId"))
	cart, err := h.carts.SetQuantity(ctx, actor.UserID, medicineID, quantityOr(req.Quantity, 0))
	h.respondCart(w, cart, err)
}

// DELETE /api/v1/cart/items/{medicineId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	medicineID := strings.TrimSpace(chi.URLParam(r, "medicineId"))
	cart, err := h.carts.RemoveItem(ctx, actor.UserID, medicineID)
	h.respondCart(w, cart, err)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	cart, err := h.carts.ClearCart(ctx, actor.UserID)
	h.respondCart(w, cart, err)
}

func (h *CartHandler) respondCart(w http.ResponseWriter, cart *domain.Cart, err error) {
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, CartResponse{Cart: toCartDTO(cart)})
}

// quantityOr floors a JSON number; an absent quantity yields def.
func quantityOr(q *float64, def int) int {
	if q == nil {
		return def
	}
	f := math.Floor(*q)
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}

func toCartDTO(c *domain.Cart) CartDTO {
	items := make([]CartItemDTO, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, CartItemDTO{
			MedicineID:   item.MedicineID,
			MedicineName: item.MedicineName,
			Category:     item.Category,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
			LineTotal:    item.LineTotal,
		})
	}
	return CartDTO{
		UserID:     c.UserID,
		Items:      items,
		TotalItems: c.TotalItems,
		Subtotal:   c.Subtotal,
		Currency:   c.Currency,
		UpdatedAt:  c.UpdatedAt,
	}
}
