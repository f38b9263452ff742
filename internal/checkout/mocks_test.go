package checkout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/himpar21/medisync/internal/domain"
	"github.com/himpar21/medisync/internal/inventory"
	"github.com/himpar21/medisync/internal/ledger"
	"github.com/himpar21/medisync/internal/repository"
)

// mockCarts keeps carts in memory with the lock semantics of the Mongo store.
type mockCarts struct {
	mu          sync.RWMutex
	carts       map[string]*domain.Cart
	drainErr    error
	onDrain     func()
	unlockCalls int
}

func newMockCarts() *mockCarts {
	return &mockCarts{carts: make(map[string]*domain.Cart)}
}

func (m *mockCarts) put(cart *domain.Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart.Recalculate()
	m.carts[cart.UserID] = copyCart(cart)
}

func (m *mockCarts) get(userID string) *domain.Cart {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cart, ok := m.carts[userID]
	if !ok {
		return nil
	}
	return copyCart(cart)
}

func (m *mockCarts) GetOrCreate(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		cart = domain.NewCart(userID)
		m.carts[userID] = cart
	}
	return copyCart(cart), nil
}

func (m *mockCarts) Lock(_ context.Context, userID string, now time.Time) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok || cart.LockHeld(now) {
		return nil, repository.ErrCartLocked
	}
	cart.IsLocked = true
	cart.LockExpiresAt = now.Add(domain.CheckoutLockTTL)
	return copyCart(cart), nil
}

func (m *mockCarts) Unlock(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlockCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if cart, ok := m.carts[userID]; ok {
		cart.IsLocked = false
		cart.LockExpiresAt = time.Unix(0, 0).UTC()
	}
	return nil
}

func (m *mockCarts) Drain(_ context.Context, snapshot *domain.Cart) error {
	if m.onDrain != nil {
		m.onDrain()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drainErr != nil {
		return m.drainErr
	}
	cart, ok := m.carts[snapshot.UserID]
	if !ok || cart.Version != snapshot.Version {
		return repository.ErrVersionConflict
	}
	cart.Items = []domain.CartItem{}
	cart.Recalculate()
	cart.Version++
	return nil
}

// addLine appends a line the way a committed cart write would.
func (m *mockCarts) addLine(userID string, item domain.CartItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.carts[userID]
	cart.Items = append(cart.Items, item)
	cart.Recalculate()
	cart.Version++
}

func (m *mockCarts) unlocks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlockCalls
}

func copyCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = append([]domain.CartItem(nil), c.Items...)
	return &out
}

// mockOrders mirrors the ledger's uniqueness and status-guard rules.
type mockOrders struct {
	mu           sync.RWMutex
	orders       map[uuid.UUID]*domain.Order
	createErr    error
	beforeCreate func(m *mockOrders)
	createCalls  int
}

func newMockOrders() *mockOrders {
	return &mockOrders{orders: make(map[uuid.UUID]*domain.Order)}
}

func (m *mockOrders) insert(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = copyOrder(order)
}

func (m *mockOrders) Create(_ context.Context, order *domain.Order) error {
	if m.beforeCreate != nil {
		m.beforeCreate(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.orders {
		if existing.OrderNumber == order.OrderNumber {
			return ledger.ErrDuplicateOrderNumber
		}
		if order.IdempotencyKey != "" && existing.UserID == order.UserID && existing.IdempotencyKey == order.IdempotencyKey {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *mockOrders) FindByIdempotencyKey(_ context.Context, userID, key string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return copyOrder(o), nil
		}
	}
	return nil, ledger.ErrOrderNotFound
}

func (m *mockOrders) FindByID(_ context.Context, id, userID string, role domain.Role) (*domain.Order, error) {
	orderID, err := uuid.Parse(id)
	if err != nil {
		return nil, ledger.ErrOrderNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok || (!role.Privileged() && o.UserID != userID) {
		return nil, ledger.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *mockOrders) FindByOwnerOrAll(_ context.Context, userID string, role domain.Role) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Order{}
	for _, o := range m.orders {
		if role.Privileged() || o.UserID == userID {
			out = append(out, *copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockOrders) AppendStatus(_ context.Context, id uuid.UUID, update domain.StatusUpdate) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ledger.ErrOrderNotFound
	}
	if o.Status != update.From {
		return nil, ledger.ErrStatusChanged
	}
	o.Status = update.Status
	o.InventoryStatus = update.InventoryStatus
	o.StatusHistory = append(o.StatusHistory, update.Entry)
	return copyOrder(o), nil
}

func (m *mockOrders) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

func (m *mockOrders) byNumber(orderNumber string) *domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.OrderNumber == orderNumber {
			return copyOrder(o)
		}
	}
	return nil
}

func copyOrder(o *domain.Order) *domain.Order {
	out := *o
	out.Items = append([]domain.OrderItem(nil), o.Items...)
	out.StatusHistory = append([]domain.StatusEntry(nil), o.StatusHistory...)
	return &out
}

type releaseCall struct {
	reference string
	lines     []domain.StockLine
}

// mockInventory answers verify and reserve from fixed results and records calls.
type mockInventory struct {
	mu          sync.RWMutex
	verify      inventory.VerifyResult
	reserve     inventory.ReserveResult
	reserveRefs []string
	releases    []releaseCall
	onReserve   func()
}

func newMockInventory() *mockInventory {
	return &mockInventory{
		verify:  inventory.VerifyResult{OK: true, Source: domain.SourceUpstream},
		reserve: inventory.ReserveResult{OK: true, Source: domain.SourceUpstream, Strategy: "upstream-reserve"},
	}
}

func (m *mockInventory) VerifyStock(_ context.Context, _ []domain.StockLine) inventory.VerifyResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.verify
}

func (m *mockInventory) ReserveStock(_ context.Context, _ []domain.StockLine, reference string) inventory.ReserveResult {
	if m.onReserve != nil {
		m.onReserve()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserveRefs = append(m.reserveRefs, reference)
	return m.reserve
}

func (m *mockInventory) ReleaseStock(_ context.Context, lines []domain.StockLine, reference string) inventory.ReleaseResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases = append(m.releases, releaseCall{reference: reference, lines: lines})
	return inventory.ReleaseResult{Source: domain.SourceUpstream}
}

func (m *mockInventory) releaseCalls() []releaseCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]releaseCall(nil), m.releases...)
}

func (m *mockInventory) reserveCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.reserveRefs...)
}

// downUpstream is an inventory provider that never answers.
type downUpstream struct{}

var errProviderDown = errors.New("provider down")

func (downUpstream) ListMedicines(context.Context, domain.MedicineFilter) ([]domain.Medicine, error) {
	return nil, errProviderDown
}

func (downUpstream) GetMedicine(context.Context, string) (*domain.Medicine, error) {
	return nil, errProviderDown
}

func (downUpstream) Verify(context.Context, []domain.StockLine) (bool, []domain.Unavailable, error) {
	return false, nil, errProviderDown
}

func (downUpstream) Reserve(context.Context, []domain.StockLine, string) error { return errProviderDown }

func (downUpstream) Deduct(context.Context, []domain.StockLine, string) error { return errProviderDown }

func (downUpstream) Release(context.Context, []domain.StockLine, string) error { return errProviderDown }

type statusEvent struct {
	order    *domain.Order
	previous domain.OrderStatus
}

type recordingNotifier struct {
	mu      sync.RWMutex
	created []*domain.Order
	updated []statusEvent
}

func (n *recordingNotifier) OrderCreated(_ context.Context, order *domain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, order)
}

func (n *recordingNotifier) OrderStatusUpdated(_ context.Context, order *domain.Order, previous domain.OrderStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, statusEvent{order: order, previous: previous})
}

func (n *recordingNotifier) createdCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.created)
}

func (n *recordingNotifier) statusEvents() []statusEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]statusEvent(nil), n.updated...)
}
