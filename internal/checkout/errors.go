package checkout

import (
	"fmt"
	"strings"

	"github.com/himpar21/medisync/internal/apperr"
	"github.com/himpar21/medisync/internal/domain"
)

var (
	ErrCheckoutInProgress = apperr.New(apperr.ErrConflict, "Checkout already in progress. Please retry in a moment.")
	ErrCartChanged        = apperr.New(apperr.ErrConflict, "Cart changed during checkout. Please review your cart and retry.")
	ErrEmptyCart          = apperr.New(apperr.ErrValidation, "Cart is empty")
	ErrAddressRequired    = apperr.New(apperr.ErrValidation, "address is required")
	ErrPickupSlotRequired = apperr.New(apperr.ErrValidation, "pickupSlot.date and pickupSlot.label are required")
	ErrInvalidStatus      = apperr.New(apperr.ErrValidation, "Invalid status. Allowed: "+allowedStatuses())
	ErrIllegalTransition  = apperr.New(apperr.ErrConflict, "illegal transition of order status")
	ErrForbidden          = apperr.New(apperr.ErrForbidden, "Forbidden: insufficient role")
)

// StockUnavailableError lists the lines inventory cannot cover.
type StockUnavailableError struct {
	Unavailable []domain.Unavailable
}

func (e *StockUnavailableError) Error() string {
	return "Some medicines are out of stock"
}

func (e *StockUnavailableError) Unwrap() error { return apperr.ErrConflict }

// ReservationError carries the inventory message of a failed hold.
type ReservationError struct {
	Message string
}

func (e *ReservationError) Error() string {
	if e.Message == "" {
		return "Unable to reserve stock"
	}
	return e.Message
}

func (e *ReservationError) Unwrap() error { return apperr.ErrConflict }

func allowedStatuses() string {
	names := make([]string, 0, len(domain.OrderStatuses))
	for _, s := range domain.OrderStatuses {
		names = append(names, s.String())
	}
	return strings.Join(names, ", ")
}

func illegalTransition(from, to domain.OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
