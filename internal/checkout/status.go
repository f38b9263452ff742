package checkout

import (
	"context"
	"strings"

	"github.com/himpar21/medisync/internal/domain"
	"go.uber.org/zap"
)

func (s *Service) ListOrders(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	return s.orders.FindByOwnerOrAll(ctx, actor.UserID, actor.Role)
}

func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	return s.orders.FindByID(ctx, orderID, actor.UserID, actor.Role)
}

// UpdateStatus moves an order to next on behalf of a privileged actor. Setting the
// current status is a no-op. Cancelling an order that still holds stock releases it.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, orderID string, next domain.OrderStatus, note string) (*domain.Order, error) {
	if !actor.Role.Privileged() {
		return nil, ErrForbidden
	}
	next = domain.OrderStatus(strings.TrimSpace(string(next)))
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}

	order, err := s.orders.FindByID(ctx, orderID, actor.UserID, actor.Role)
	if err != nil {
		return nil, err
	}

	previous := order.Status
	if previous == next {
		return order, nil
	}
	if previous.IsTerminal() {
		return nil, illegalTransition(previous, next)
	}

	releasing := next == domain.OrderStatusCancelled && order.InventoryStatus == domain.InventoryStatusReserved
	inventoryStatus := order.InventoryStatus
	if releasing {
		inventoryStatus = domain.InventoryStatusReleased
	}

	// The From guard makes the status write the single winner of concurrent
	// updates, so stock is released at most once.
	entry := domain.StatusEntry{
		Status:    next,
		UpdatedBy: actor.UserID,
		At:        s.now().UTC(),
		Note:      strings.TrimSpace(note),
	}
	updated, err := s.orders.AppendStatus(ctx, order.ID, domain.StatusUpdate{
		From:            previous,
		Status:          next,
		InventoryStatus: inventoryStatus,
		Entry:           entry,
	})
	if err != nil {
		return nil, err
	}

	if releasing {
		released := s.inventory.ReleaseStock(ctx, order.StockLines(), cancelReference(order.OrderNumber))
		s.logger.Info("stock released for cancelled order",
			zap.String("order_number", order.OrderNumber),
			zap.String("source", string(released.Source)),
		)
	}

	s.logger.Info("order status updated",
		zap.String("order_number", updated.OrderNumber),
		zap.String("previous_status", previous.String()),
		zap.String("status", next.String()),
		zap.String("updated_by", actor.UserID),
	)
	s.notifier.OrderStatusUpdated(ctx, updated, previous)
	return updated, nil
}
