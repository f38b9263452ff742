package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/himpar21/medisync/internal/checkout"
	"github.com/himpar21/medisync/internal/domain"
	"go.uber.org/zap"
)

type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type CheckoutHandler struct {
	checkouts CheckoutService
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time
}

func NewCheckoutHandler(checkouts CheckoutService, logger *zap.Logger, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkouts: checkouts,
		logger:    logger,
		timeout:   timeout,
		now:       time.Now,
	}
}

type PickupSlotDTO struct {
	Date  string `json:"date"`
	Label string `json:"label"`
}

type CheckoutRequestDTO struct {
	PickupSlot     *PickupSlotDTO `json:"pickupSlot"`
	Address        string         `json:"address"`
	Note           string         `json:"note"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

type OrderResponse struct {
	Message string        `json:"message,omitempty"`
	Order   *domain.Order `json:"order"`
}

type SlotsResponse struct {
	Items []checkout.Slot `json:"items"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req CheckoutRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Address) == "" {
		respondServiceError(w, h.logger, checkout.ErrAddressRequired)
		return
	}
	slot, err := parsePickupSlot(req.PickupSlot)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if strings.TrimSpace(key) == "" {
		key = req.IdempotencyKey
	}

	res, err := h.checkouts.Checkout(ctx, checkout.Request{
		UserID:         actor.UserID,
		PickupSlot:     slot,
		Address:        req.Address,
		Note:           req.Note,
		IdempotencyKey: key,
	})
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	if res.Replayed {
		respondJSON(w, http.StatusOK, OrderResponse{
			Message: "Order already created for this idempotency key",
			Order:   res.Order,
		})
		return
	}
	respondJSON(w, http.StatusCreated, OrderResponse{
		Message: "Order placed successfully",
		Order:   res.Order,
	})
}

// GET /api/v1/pickup-slots
func (h *CheckoutHandler) PickupSlots(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SlotsResponse{Items: checkout.PickupSlots(h.now(), checkout.PickupDays)})
}

// parsePickupSlot accepts an RFC 3339 timestamp or a bare YYYY-MM-DD date.
func parsePickupSlot(dto *PickupSlotDTO) (domain.PickupSlot, error) {
	if dto == nil || strings.TrimSpace(dto.Date) == "" || strings.TrimSpace(dto.Label) == "" {
		return domain.PickupSlot{}, checkout.ErrPickupSlotRequired
	}

	raw := strings.TrimSpace(dto.Date)
	date, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		date, err = time.Parse(time.DateOnly, raw)
	}
	if err != nil {
		return domain.PickupSlot{}, checkout.ErrPickupSlotRequired
	}
	return domain.PickupSlot{Date: date, Label: strings.TrimSpace(dto.Label)}, nil
}
