package http

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/himpar21/medisync/internal/checkout"
	"github.com/himpar21/medisync/internal/domain"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test_secret")

type cartCall struct {
	op         string
	userID     string
	medicineID string
	quantity   int
}

type mockCartService struct {
	mu    sync.RWMutex
	cart  *domain.Cart
	err   error
	calls []cartCall
}

func (m *mockCartService) record(c cartCall) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	if m.err != nil {
		return nil, m.err
	}
	return m.cart, nil
}

func (m *mockCartService) lastCall() cartCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return cartCall{}
	}
	return m.calls[len(m.calls)-1]
}

func (m *mockCartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return m.record(cartCall{op: "get", userID: userID})
}

func (m *mockCartService) AddItem(ctx context.Context, userID, medicineID string, quantity int) (*domain.Cart, error) {
	return m.record(cartCall{op: "add", userID: userID, medicineID: medicineID, quantity: quantity})
}

func (m *mockCartService) SetQuantity(ctx context.Context, userID, medicineID string, quantity int) (*domain.Cart, error) {
	return m.record(cartCall{op: "set", userID: userID, medicineID: medicineID, quantity: quantity})
}

func (m *mockCartService) RemoveItem(ctx context.Context, userID, medicineID string) (*domain.Cart, error) {
	return m.record(cartCall{op: "remove", userID: userID, medicineID: medicineID})
}

func (m *mockCartService) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return m.record(cartCall{op: "clear", userID: userID})
}

type mockCheckout struct {
	mu     sync.RWMutex
	result *checkout.Result
	err    error
	last   checkout.Request
}

func (m *mockCheckout) Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockCheckout) lastRequest() checkout.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

type statusCall struct {
	actor   domain.Actor
	orderID string
	next    domain.OrderStatus
	note    string
}

type mockOrderService struct {
	mu       sync.RWMutex
	orders   []domain.Order
	order    *domain.Order
	err      error
	lastSeen domain.Actor
	updates  []statusCall
}

func (m *mockOrderService) ListOrders(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen = actor
	return m.orders, m.err
}

func (m *mockOrderService) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen = actor
	if m.err != nil {
		return nil, m.err
	}
	return m.order, nil
}

func (m *mockOrderService) UpdateStatus(ctx context.Context, actor domain.Actor, orderID string, next domain.OrderStatus, note string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, statusCall{actor: actor, orderID: orderID, next: next, note: note})
	if m.err != nil {
		return nil, m.err
	}
	return m.order, nil
}

func (m *mockOrderService) updateCalls() []statusCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]statusCall(nil), m.updates...)
}

type mockCatalog struct {
	items  []domain.Medicine
	source domain.Source
	filter domain.MedicineFilter
}

func (m *mockCatalog) ListMedicines(ctx context.Context, filter domain.MedicineFilter) ([]domain.Medicine, domain.Source) {
	m.filter = filter
	return m.items, m.source
}

func signToken(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func sampleCart(userID string) *domain.Cart {
	cart := domain.NewCart(userID)
	cart.Items = append(cart.Items, domain.CartItem{
		MedicineID:   "med-1",
		MedicineName: "Paracetamol 500mg",
		Category:     "Pain Relief",
		UnitPrice:    32,
		Quantity:     3,
	})
	cart.Recalculate()
	return cart
}

func sampleOrder(userID string) *domain.Order {
	return &domain.Order{
		OrderNumber: "MS-20260314-1234",
		UserID:      userID,
		TotalItems:  3,
		Subtotal:    96,
		Tax:         4.8,
		TotalAmount: 100.8,
		Currency:    domain.DefaultCurrency,
		Status:      domain.OrderStatusPlaced,
	}
}
