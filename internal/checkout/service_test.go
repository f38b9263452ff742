package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/himpar21/medisync/internal/apperr"
	"github.com/himpar21/medisync/internal/domain"
	"github.com/himpar21/medisync/internal/inventory"
	"github.com/himpar21/medisync/internal/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

type fixture struct {
	carts    *mockCarts
	orders   *mockOrders
	inv      *mockInventory
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		carts:    newMockCarts(),
		orders:   newMockOrders(),
		inv:      newMockInventory(),
		notifier: &recordingNotifier{},
	}
	f.svc = newTestService(f.carts, f.inv, f.orders, f.notifier, opts...)
	return f
}

func newTestService(carts Carts, inv Inventory, orders Orders, notifier Notifier, opts ...Option) *Service {
	var seq atomic.Int32
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithOrderNumbers(func(now time.Time) string {
			return fmt.Sprintf("MS-%s-%d", now.Format("20060102"), 1000+seq.Add(1))
		}),
	}
	return NewService(carts, inv, orders, notifier, append(base, opts...)...)
}

func paracetamol(qty int) domain.CartItem {
	return domain.CartItem{
		MedicineID:   "MED-1001",
		MedicineName: "Paracetamol 650",
		Category:     "Pain Relief",
		UnitPrice:    32,
		Quantity:     qty,
	}
}

func seedCart(carts *mockCarts, userID string, items ...domain.CartItem) {
	cart := domain.NewCart(userID)
	cart.Items = items
	carts.put(cart)
}

func validRequest(userID, key string) Request {
	return Request{
		UserID:         userID,
		PickupSlot:     domain.PickupSlot{Date: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), Label: "09:00 - 11:00"},
		Address:        "Block A, Room 12",
		Note:           "  call on arrival  ",
		IdempotencyKey: key,
	}
}

func TestCheckout_PlacesOrder(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(3))

	res, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.False(t, res.Replayed)

	o := res.Order
	assert.Equal(t, 96.0, o.Subtotal)
	assert.Equal(t, 4.8, o.Tax)
	assert.Equal(t, 0.0, o.DeliveryFee)
	assert.Equal(t, 100.8, o.TotalAmount)
	assert.Equal(t, 3, o.TotalItems)
	assert.Equal(t, "INR", o.Currency)
	assert.Equal(t, domain.OrderStatusPlaced, o.Status)
	assert.Equal(t, domain.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, domain.InventoryStatusReserved, o.InventoryStatus)
	assert.Equal(t, "call on arrival", o.Note)
	assert.Equal(t, "Block A, Room 12", o.Address)
	assert.Regexp(t, `^MS-20260314-\d{4}$`, o.OrderNumber)

	require.Len(t, o.Items, 1)
	assert.Equal(t, 96.0, o.Items[0].LineTotal)

	require.Len(t, o.StatusHistory, 1)
	assert.Equal(t, domain.OrderStatusPlaced, o.StatusHistory[0].Status)
	assert.Equal(t, "user-1", o.StatusHistory[0].UpdatedBy)
	assert.Equal(t, "Order placed successfully", o.StatusHistory[0].Note)

	assert.Equal(t, []string{o.OrderNumber}, f.inv.reserveCalls())
	assert.Empty(t, f.inv.releaseCalls())
	assert.Equal(t, 1, f.orders.count())
	assert.Equal(t, 1, f.notifier.createdCount())

	cart := f.carts.get("user-1")
	assert.Empty(t, cart.Items)
	assert.False(t, cart.IsLocked)
	assert.Equal(t, 1, f.carts.unlocks())
}

func TestCheckout_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(2))

	first, err := f.svc.Checkout(context.Background(), validRequest("user-1", "key-1"))
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.Checkout(context.Background(), validRequest("user-1", " key-1 "))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Order.OrderNumber, second.Order.OrderNumber)

	assert.Equal(t, 1, f.orders.count())
	assert.Len(t, f.inv.reserveCalls(), 1)
	assert.Equal(t, 1, f.notifier.createdCount())
	assert.Equal(t, 1, f.carts.unlocks(), "a replay never takes the lock")
}

func TestCheckout_IdempotencyKeyScopedPerUser(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(1))
	seedCart(f.carts, "user-2", paracetamol(1))

	a, err := f.svc.Checkout(context.Background(), validRequest("user-1", "shared"))
	require.NoError(t, err)

	b, err := f.svc.Checkout(context.Background(), validRequest("user-2", "shared"))
	require.NoError(t, err)
	assert.False(t, b.Replayed)
	assert.Equal(t, "user-2", b.Order.UserID)
	assert.NotEqual(t, a.Order.ID, b.Order.ID)
	assert.Equal(t, 2, f.orders.count())

	assert.Empty(t, f.inv.releaseCalls())
	assert.Empty(t, f.carts.get("user-2").Items)
}

func TestCheckout_LockHeldByAnotherCheckout(t *testing.T) {
	f := newFixture(t)
	cart := domain.NewCart("user-1")
	cart.Items = []domain.CartItem{paracetamol(1)}
	cart.IsLocked = true
	cart.LockExpiresAt = fixedNow.Add(time.Minute)
	f.carts.put(cart)

	_, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "Checkout already in progress. Please retry in a moment.", err.Error())

	assert.Equal(t, 0, f.carts.unlocks(), "a failed lock must not release the holder's lock")
	assert.True(t, f.carts.get("user-1").IsLocked)
	assert.Empty(t, f.inv.reserveCalls())
}

func TestCheckout_ExpiredLockIsTakenOver(t *testing.T) {
	f := newFixture(t)
	cart := domain.NewCart("user-1")
	cart.Items = []domain.CartItem{paracetamol(1)}
	cart.IsLocked = true
	cart.LockExpiresAt = fixedNow.Add(-time.Second)
	f.carts.put(cart)

	res, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.NoError(t, err)
	assert.Equal(t, 32.0, res.Order.Subtotal)
	assert.False(t, f.carts.get("user-1").IsLocked)
}

func TestCheckout_EmptyCartLeavesNoLock(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	cart := f.carts.get("user-1")
	require.NotNil(t, cart, "the cart is created lazily")
	assert.False(t, cart.IsLocked)
	assert.Equal(t, 1, f.carts.unlocks())
	assert.Empty(t, f.inv.reserveCalls())
}

func TestCheckout_StockUnavailable(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(3))
	f.inv.verify = inventory.VerifyResult{
		OK:          false,
		Unavailable: []domain.Unavailable{{MedicineID: "MED-1001", Requested: 3, Available: 1}},
		Source:      domain.SourceUpstream,
	}

	_, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	var unavailable *StockUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []domain.Unavailable{{MedicineID: "MED-1001", Requested: 3, Available: 1}}, unavailable.Unavailable)

	assert.Empty(t, f.inv.reserveCalls())
	assert.Equal(t, 0, f.orders.count())
	assert.Len(t, f.carts.get("user-1").Items, 1)
	assert.False(t, f.carts.get("user-1").IsLocked)
}

func TestCheckout_ReservationFailed(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(3))
	f.inv.reserve = inventory.ReserveResult{OK: false, Message: "Insufficient stock for Paracetamol 650", Source: domain.SourceFallback}

	_, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))

	var reservation *ReservationError
	require.ErrorAs(t, err, &reservation)
	assert.EqualError(t, err, "Insufficient stock for Paracetamol 650")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 0, f.orders.count())
	assert.Empty(t, f.inv.releaseCalls())
	assert.False(t, f.carts.get("user-1").IsLocked)
}

func TestCheckout_ReservationFailedDefaultMessage(t *testing.T) {
	err := &ReservationError{}
	assert.EqualError(t, err, "Unable to reserve stock")
}

func TestCheckout_ReservesFromLocalCatalogWhenProviderDown(t *testing.T) {
	local := inventory.NewLocalCatalog()
	gw := inventory.NewGateway(downUpstream{}, local)
	carts, orders := newMockCarts(), newMockOrders()
	svc := newTestService(carts, gw, orders, &recordingNotifier{})
	seedCart(carts, "user-1", paracetamol(3))

	before := local.Stock("MED-1001")
	_, err := svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.NoError(t, err)
	assert.Equal(t, before-3, local.Stock("MED-1001"))
}

func TestCheckout_CompensationRestoresStock(t *testing.T) {
	local := inventory.NewLocalCatalog()
	gw := inventory.NewGateway(downUpstream{}, local)
	carts, orders, notifier := newMockCarts(), newMockOrders(), &recordingNotifier{}
	svc := newTestService(carts, gw, orders, notifier)
	seedCart(carts, "user-1", paracetamol(3))
	orders.createErr = errors.New("connection reset by peer")

	before := local.Stock("MED-1001")
	_, err := svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create order")

	assert.Equal(t, before, local.Stock("MED-1001"))
	assert.Len(t, carts.get("user-1").Items, 1, "the cart is kept for a retry")
	assert.False(t, carts.get("user-1").IsLocked)
	assert.Equal(t, 0, notifier.createdCount())
}

func TestCheckout_CreateFailureReleasesUnderRollbackReference(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(3))
	f.orders.createErr = errors.New("connection reset by peer")

	_, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.Error(t, err)

	reserved := f.inv.reserveCalls()
	require.Len(t, reserved, 1)
	releases := f.inv.releaseCalls()
	require.Len(t, releases, 1)
	assert.Equal(t, fmt.Sprintf("rollback-%s-%d", reserved[0], fixedNow.UnixMilli()), releases[0].reference)
	assert.Equal(t, []domain.StockLine{{MedicineID: "MED-1001", MedicineName: "Paracetamol 650", Quantity: 3}}, releases[0].lines)
}

func TestCheckout_DrainFailureCancelsOrder(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(3))
	f.carts.drainErr = errors.New("mongo unavailable")

	_, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to drain cart")

	reserved := f.inv.reserveCalls()
	require.Len(t, reserved, 1)
	order := f.orders.byNumber(reserved[0])
	require.NotNil(t, order)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, domain.InventoryStatusReleased, order.InventoryStatus)
	require.Len(t, order.StatusHistory, 2)
	assert.Equal(t, "system", order.StatusHistory[1].UpdatedBy)

	releases := f.inv.releaseCalls()
	require.Len(t, releases, 1)
	assert.True(t, strings.HasPrefix(releases[0].reference, "rollback-"+reserved[0]+"-"))

	assert.False(t, f.carts.get("user-1").IsLocked)
	assert.Equal(t, 0, f.notifier.createdCount())
}

func TestCheckout_CartChangedWhileLockedKeepsNewLine(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(2))
	azithromycin := domain.CartItem{
		MedicineID:   "MED-1004",
		MedicineName: "Azithromycin 500",
		Category:     "Antibiotic",
		UnitPrice:    190,
		Quantity:     1,
	}
	f.inv.onReserve = func() { f.carts.addLine("user-1", azithromycin) }

	_, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.ErrorIs(t, err, ErrCartChanged)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	reserved := f.inv.reserveCalls()
	require.Len(t, reserved, 1)
	order := f.orders.byNumber(reserved[0])
	require.NotNil(t, order)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	require.Len(t, f.inv.releaseCalls(), 1)

	cart := f.carts.get("user-1")
	require.Len(t, cart.Items, 2)
	assert.Equal(t, "MED-1004", cart.Items[1].MedicineID)
	assert.False(t, cart.IsLocked)
	assert.Equal(t, 0, f.notifier.createdCount())
}

func TestCheckout_IdempotencyRaceResolvesToWinner(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(2))

	winner := &domain.Order{
		ID:             uuid.New(),
		OrderNumber:    "MS-20260314-9999",
		UserID:         "user-1",
		IdempotencyKey: "key-race",
		Status:         domain.OrderStatusPlaced,
		CreatedAt:      fixedNow,
	}
	f.orders.beforeCreate = func(m *mockOrders) { m.insert(winner) }

	res, err := f.svc.Checkout(context.Background(), validRequest("user-1", "key-race"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, winner.ID, res.Order.ID)

	assert.Equal(t, 1, f.orders.count())
	assert.Len(t, f.inv.releaseCalls(), 1, "the loser's reservation is handed back")
	assert.Equal(t, 0, f.notifier.createdCount())
	assert.Len(t, f.carts.get("user-1").Items, 1)
}

func TestCheckout_DuplicateOrderNumber(t *testing.T) {
	f := newFixture(t, WithOrderNumbers(func(time.Time) string { return "MS-20260314-1234" }))
	f.orders.insert(&domain.Order{ID: uuid.New(), OrderNumber: "MS-20260314-1234", UserID: "someone-else"})
	seedCart(f.carts, "user-1", paracetamol(1))

	_, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.ErrorIs(t, err, ledger.ErrDuplicateOrderNumber)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Len(t, f.inv.releaseCalls(), 1)
	assert.False(t, f.carts.get("user-1").IsLocked)
}

func TestCheckout_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"blank address", func(r *Request) { r.Address = "   " }, ErrAddressRequired},
		{"missing slot date", func(r *Request) { r.PickupSlot.Date = time.Time{} }, ErrPickupSlotRequired},
		{"missing slot label", func(r *Request) { r.PickupSlot.Label = " " }, ErrPickupSlotRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			seedCart(f.carts, "user-1", paracetamol(1))
			req := validRequest("user-1", "")
			tt.mutate(&req)

			_, err := f.svc.Checkout(context.Background(), req)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, 0, f.carts.unlocks())
			assert.False(t, f.carts.get("user-1").IsLocked)
		})
	}
}

func TestCheckout_ConcurrentRequestsPlaceOneOrder(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(2))

	const workers = 10
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		errs      = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
			if err == nil {
				successes.Add(1)
				return
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), successes.Load())
	for err := range errs {
		assert.True(t, errors.Is(err, ErrCheckoutInProgress) || errors.Is(err, ErrEmptyCart), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, f.orders.count())
	assert.False(t, f.carts.get("user-1").IsLocked)
}

func TestCheckout_UnlockSurvivesRequestCancellation(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1", paracetamol(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.carts.onDrain = cancel

	_, err := f.svc.Checkout(ctx, validRequest("user-1", ""))
	require.NoError(t, err)
	assert.False(t, f.carts.get("user-1").IsLocked)
}

func TestCheckout_CountsOutcomes(t *testing.T) {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_checkout_total"}, []string{"outcome"})
	f := newFixture(t, WithOutcomeCounter(outcomes))
	seedCart(f.carts, "user-1", paracetamol(1))

	_, err := f.svc.Checkout(context.Background(), validRequest("user-1", "k"))
	require.NoError(t, err)
	_, err = f.svc.Checkout(context.Background(), validRequest("user-1", "k"))
	require.NoError(t, err)
	_, err = f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.ErrorIs(t, err, ErrEmptyCart)

	assert.Equal(t, 1.0, testutil.ToFloat64(outcomes.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(outcomes.WithLabelValues("replayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(outcomes.WithLabelValues("empty_cart")))
}

func TestCheckout_TotalsRoundPerLine(t *testing.T) {
	f := newFixture(t)
	seedCart(f.carts, "user-1",
		domain.CartItem{MedicineID: "MED-1005", MedicineName: "ORS Electrolyte Sachet", UnitPrice: 18.33, Quantity: 3},
		domain.CartItem{MedicineID: "MED-1003", MedicineName: "Cetirizine 10mg", UnitPrice: 48.1, Quantity: 1},
	)

	res, err := f.svc.Checkout(context.Background(), validRequest("user-1", ""))
	require.NoError(t, err)
	// 54.99 + 48.10 = 103.09; tax 5.1545 rounds to 5.15.
	assert.Equal(t, 103.09, res.Order.Subtotal)
	assert.Equal(t, 5.15, res.Order.Tax)
	assert.Equal(t, 108.24, res.Order.TotalAmount)
	assert.Equal(t, 4, res.Order.TotalItems)
}
