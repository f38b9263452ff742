// Package checkout turns a user's cart into an order. A checkout holds the cart's
// advisory lock for its whole duration, reserves stock before the order row is
// written and hands the stock back if anything after the reservation fails.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/himpar21/medisync/internal/domain"
	"github.com/himpar21/medisync/internal/inventory"
	"github.com/himpar21/medisync/internal/ledger"
	"github.com/himpar21/medisync/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/himpar21/medisync/internal/checkout"

	// DefaultCleanupTimeout bounds unlock and compensation calls, which run on a
	// context detached from the request.
	DefaultCleanupTimeout = 5 * time.Second

	placedNote    = "Order placed successfully"
	rollbackNote  = "Checkout rolled back after the cart could not be drained"
	systemActorID = "system"
)

var taxRate = decimal.RequireFromString("0.05")

const (
	outcomeCreated           = "created"
	outcomeReplayed          = "replayed"
	outcomeInvalid           = "invalid"
	outcomeInProgress        = "in_progress"
	outcomeEmpty             = "empty_cart"
	outcomeUnavailable       = "stock_unavailable"
	outcomeReservationFailed = "reservation_failed"
	outcomeCartChanged       = "cart_changed"
	outcomeError             = "error"
)

type Carts interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	Lock(ctx context.Context, userID string, now time.Time) (*domain.Cart, error)
	Unlock(ctx context.Context, userID string) error
	// Drain empties the cart if it is still at snapshot's version.
	Drain(ctx context.Context, snapshot *domain.Cart) error
}

type Inventory interface {
	VerifyStock(ctx context.Context, lines []domain.StockLine) inventory.VerifyResult
	ReserveStock(ctx context.Context, lines []domain.StockLine, reference string) inventory.ReserveResult
	ReleaseStock(ctx context.Context, lines []domain.StockLine, reference string) inventory.ReleaseResult
}

type Orders interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
	FindByID(ctx context.Context, id, userID string, role domain.Role) (*domain.Order, error)
	FindByOwnerOrAll(ctx context.Context, userID string, role domain.Role) ([]domain.Order, error)
	AppendStatus(ctx context.Context, id uuid.UUID, update domain.StatusUpdate) (*domain.Order, error)
}

// Notifier receives lifecycle events. Implementations must not block on sinks
// beyond their own timeout and must not report failures.
type Notifier interface {
	OrderCreated(ctx context.Context, order *domain.Order)
	OrderStatusUpdated(ctx context.Context, order *domain.Order, previous domain.OrderStatus)
}

type Request struct {
	UserID         string
	PickupSlot     domain.PickupSlot
	Address        string
	Note           string
	IdempotencyKey string
}

type Result struct {
	Order    *domain.Order
	// Replayed is set when the order already existed for the idempotency key.
	Replayed bool
}

type Service struct {
	carts          Carts
	inventory      Inventory
	orders         Orders
	notifier       Notifier
	logger         *zap.Logger
	outcomes       *prometheus.CounterVec
	tracer         trace.Tracer
	now            func() time.Time
	orderNumber    func(time.Time) string
	cleanupTimeout time.Duration
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithOutcomeCounter counts checkouts by outcome label.
func WithOutcomeCounter(c *prometheus.CounterVec) Option {
	return func(s *Service) { s.outcomes = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithOrderNumbers(gen func(time.Time) string) Option {
	return func(s *Service) { s.orderNumber = gen }
}

func WithCleanupTimeout(d time.Duration) Option {
	return func(s *Service) { s.cleanupTimeout = d }
}

func NewService(carts Carts, inv Inventory, orders Orders, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		carts:          carts,
		inventory:      inv,
		orders:         orders,
		notifier:       notifier,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
		orderNumber:    NewOrderNumber,
		cleanupTimeout: DefaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout places an order from the user's cart. A request whose idempotency key
// already produced an order returns that order with Replayed set.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkout")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", req.UserID))

	result, outcome, err := s.checkout(ctx, req)
	s.observe(outcome)
	span.SetAttributes(attribute.String("checkout.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")

	// The lock is already released here; notification never holds it.
	if !result.Replayed {
		s.notifier.OrderCreated(ctx, result.Order)
	}
	return result, nil
}

func (s *Service) checkout(ctx context.Context, req Request) (*Result, string, error) {
	req.Address = strings.TrimSpace(req.Address)
	req.Note = strings.TrimSpace(req.Note)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.PickupSlot.Label = strings.TrimSpace(req.PickupSlot.Label)

	if req.Address == "" {
		return nil, outcomeInvalid, ErrAddressRequired
	}
	if req.PickupSlot.Date.IsZero() || req.PickupSlot.Label == "" {
		return nil, outcomeInvalid, ErrPickupSlotRequired
	}

	replay, err := s.findReplay(ctx, req)
	if err != nil {
		return nil, outcomeError, err
	}
	if replay != nil {
		return replay, outcomeReplayed, nil
	}

	// The lock is a conditional update on an existing document.
	if _, err := s.carts.GetOrCreate(ctx, req.UserID); err != nil {
		return nil, outcomeError, fmt.Errorf("failed to load cart: %w", err)
	}

	lockCtx, lockSpan := s.tracer.Start(ctx, "checkout.lock")
	cart, err := s.carts.Lock(lockCtx, req.UserID, s.now())
	lockSpan.End()
	if errors.Is(err, repository.ErrCartLocked) {
		return nil, outcomeInProgress, ErrCheckoutInProgress
	}
	if err != nil {
		return nil, outcomeError, fmt.Errorf("failed to lock cart: %w", err)
	}
	defer s.unlock(ctx, req.UserID)

	// A retry that raced its original may have waited on the lock the original held.
	replay, err = s.findReplay(ctx, req)
	if err != nil {
		return nil, outcomeError, err
	}
	if replay != nil {
		return replay, outcomeReplayed, nil
	}

	cart.Recalculate()
	if len(cart.Items) == 0 {
		return nil, outcomeEmpty, ErrEmptyCart
	}
	lines := cart.StockLines()

	verifyCtx, verifySpan := s.tracer.Start(ctx, "checkout.verify_stock")
	verify := s.inventory.VerifyStock(verifyCtx, lines)
	verifySpan.SetAttributes(attribute.String("inventory.source", string(verify.Source)))
	verifySpan.End()
	if !verify.OK {
		return nil, outcomeUnavailable, &StockUnavailableError{Unavailable: verify.Unavailable}
	}

	order := s.buildOrder(cart, req)

	reserveCtx, reserveSpan := s.tracer.Start(ctx, "checkout.reserve_stock")
	reserve := s.inventory.ReserveStock(reserveCtx, lines, order.OrderNumber)
	reserveSpan.SetAttributes(
		attribute.String("inventory.source", string(reserve.Source)),
		attribute.String("inventory.strategy", reserve.Strategy),
	)
	reserveSpan.End()
	if !reserve.OK {
		return nil, outcomeReservationFailed, &ReservationError{Message: reserve.Message}
	}
	s.logger.Info("stock reserved",
		zap.String("user_id", req.UserID),
		zap.String("order_number", order.OrderNumber),
		zap.String("source", string(reserve.Source)),
		zap.String("strategy", reserve.Strategy),
	)

	createCtx, createSpan := s.tracer.Start(ctx, "checkout.create_order")
	err = s.orders.Create(createCtx, order)
	createSpan.End()
	if err != nil {
		s.compensate(ctx, order, lines)
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			winner, findErr := s.orders.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
			if findErr == nil {
				return &Result{Order: winner, Replayed: true}, outcomeReplayed, nil
			}
		}
		if errors.Is(err, ledger.ErrDuplicateOrderNumber) || errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return nil, outcomeError, err
		}
		return nil, outcomeError, fmt.Errorf("failed to create order: %w", err)
	}

	drainCtx, drainSpan := s.tracer.Start(ctx, "checkout.drain_cart")
	err = s.carts.Drain(drainCtx, cart)
	drainSpan.End()
	if err != nil {
		s.compensate(ctx, order, lines)
		s.cancelPlaced(ctx, order)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.logger.Warn("cart changed during checkout",
				zap.String("user_id", req.UserID),
				zap.String("order_number", order.OrderNumber),
			)
			return nil, outcomeCartChanged, ErrCartChanged
		}
		return nil, outcomeError, fmt.Errorf("failed to drain cart: %w", err)
	}

	s.logger.Info("order placed",
		zap.String("user_id", req.UserID),
		zap.String("order_number", order.OrderNumber),
		zap.Float64("total_amount", order.TotalAmount),
	)
	return &Result{Order: order}, outcomeCreated, nil
}

func (s *Service) findReplay(ctx context.Context, req Request) (*Result, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}

	existing, err := s.orders.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
	if errors.Is(err, ledger.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}

	s.logger.Info("duplicate checkout request",
		zap.String("user_id", req.UserID),
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("order_number", existing.OrderNumber),
	)
	return &Result{Order: existing, Replayed: true}, nil
}

func (s *Service) buildOrder(cart *domain.Cart, req Request) *domain.Order {
	now := s.now().UTC()

	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, domain.OrderItem{
			MedicineID:   item.MedicineID,
			MedicineName: item.MedicineName,
			Category:     item.Category,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
			LineTotal:    item.LineTotal,
		})
	}

	subtotal := decimal.NewFromFloat(cart.Subtotal)
	tax := subtotal.Mul(taxRate).Round(2)
	deliveryFee := decimal.Zero
	total := subtotal.Add(tax).Add(deliveryFee).Round(2)

	currency := cart.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	history := []domain.StatusEntry{{
		Status:    domain.OrderStatusPlaced,
		UpdatedBy: req.UserID,
		At:        now,
		Note:      placedNote,
	}}

	return &domain.Order{
		ID:              uuid.New(),
		OrderNumber:     s.orderNumber(now),
		UserID:          req.UserID,
		Items:           items,
		TotalItems:      cart.TotalItems,
		Subtotal:        cart.Subtotal,
		Tax:             tax.InexactFloat64(),
		DeliveryFee:     deliveryFee.InexactFloat64(),
		TotalAmount:     total.InexactFloat64(),
		Currency:        currency,
		PickupSlot:      req.PickupSlot,
		Address:         req.Address,
		Status:          domain.OrderStatusPlaced,
		PaymentStatus:   domain.PaymentStatusPending,
		InventoryStatus: domain.InventoryStatusReserved,
		IdempotencyKey:  req.IdempotencyKey,
		Note:            req.Note,
		StatusHistory:   history,
		PlacedAt:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// compensate hands the reserved lines back under a rollback reference.
func (s *Service) compensate(ctx context.Context, order *domain.Order, lines []domain.StockLine) {
	ctx, cancel := s.cleanupContext(ctx)
	defer cancel()

	reference := rollbackReference(order.OrderNumber, s.now())
	released := s.inventory.ReleaseStock(ctx, lines, reference)
	s.logger.Warn("checkout compensated",
		zap.String("user_id", order.UserID),
		zap.String("order_number", order.OrderNumber),
		zap.String("reference", reference),
		zap.String("source", string(released.Source)),
	)
}

// cancelPlaced records that a persisted order's stock was handed back.
func (s *Service) cancelPlaced(ctx context.Context, order *domain.Order) {
	ctx, cancel := s.cleanupContext(ctx)
	defer cancel()

	entry := domain.StatusEntry{
		Status:    domain.OrderStatusCancelled,
		UpdatedBy: systemActorID,
		At:        s.now().UTC(),
		Note:      rollbackNote,
	}
	_, err := s.orders.AppendStatus(ctx, order.ID, domain.StatusUpdate{
		From:            domain.OrderStatusPlaced,
		Status:          domain.OrderStatusCancelled,
		InventoryStatus: domain.InventoryStatusReleased,
		Entry:           entry,
	})
	if err != nil {
		s.logger.Error("failed to cancel rolled back order",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}
}

func (s *Service) unlock(ctx context.Context, userID string) {
	ctx, cancel := s.cleanupContext(ctx)
	defer cancel()

	if err := s.carts.Unlock(ctx, userID); err != nil {
		// The lock expires on its own after domain.CheckoutLockTTL.
		s.logger.Error("failed to release checkout lock", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
}

func (s *Service) observe(outcome string) {
	if s.outcomes != nil {
		s.outcomes.WithLabelValues(outcome).Inc()
	}
}
