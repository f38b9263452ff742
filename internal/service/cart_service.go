package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himpar21/medisync/internal/apperr"
	"github.com/himpar21/medisync/internal/cache"
	"github.com/himpar21/medisync/internal/domain"
	"github.com/himpar21/medisync/internal/inventory"
	"github.com/himpar21/medisync/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// maxMutateAttempts bounds the read-transform-write loop under version conflicts.
const maxMutateAttempts = 3

var (
	ErrQuantityExceeded  = apperr.New(apperr.ErrValidation, fmt.Sprintf("Quantity cannot exceed %d per item", domain.MaxItemQuantity))
	ErrMedicineRequired  = apperr.New(apperr.ErrValidation, "medicineId is required")
	ErrItemNotFound      = apperr.New(apperr.ErrNotFound, "Medicine not found")
	ErrCartItemNotFound  = apperr.New(apperr.ErrNotFound, "Cart item not found")
	ErrInsufficientStock = apperr.New(apperr.ErrConflict, "Requested quantity exceeds stock")
	ErrConcurrentUpdate  = apperr.New(apperr.ErrConflict, "Unable to update cart due to concurrent updates")
)

// MedicineLookup is the slice of the inventory gateway the cart needs.
type MedicineLookup interface {
	GetMedicine(ctx context.Context, id string) (*domain.Medicine, domain.Source, error)
}

// Transform edits the cart lines in place. Returning an error aborts the mutation.
type Transform func(cart *domain.Cart) error

type CartService struct {
	repo      repository.CartRepository
	cache     cache.CartCache
	medicines MedicineLookup
	logger    *zap.Logger
	retries   prometheus.Counter
	sfg       singleflight.Group
}

type Option func(*CartService)

func WithLogger(logger *zap.Logger) Option {
	return func(s *CartService) { s.logger = logger }
}

// WithRetryCounter counts version-conflict retries.
func WithRetryCounter(c prometheus.Counter) Option {
	return func(s *CartService) { s.retries = c }
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, medicines MedicineLookup, opts ...Option) *CartService {
	s := &CartService{
		repo:      repo,
		cache:     cache,
		medicines: medicines,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCart serves the read path: cache first, then the store, creating the cart on
// first access. Concurrent misses for one user share a single store read.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		cart, err = s.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}
		cart.Recalculate()
		s.fill(ctx, cart)

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// fill caches a snapshot read from the store. A write committing between that
// read and the Set may have invalidated first, so the stored version is checked
// again afterwards and a superseded entry is dropped.
func (s *CartService) fill(ctx context.Context, cart *domain.Cart) {
	if err := s.cache.Set(ctx, cart.UserID, cart); err != nil {
		s.logger.Warn("cache set failed", zap.String("user_id", cart.UserID), zap.Error(err))
		return
	}

	current, err := s.repo.GetCart(ctx, cart.UserID)
	if err == nil && current.Version == cart.Version {
		return
	}
	s.invalidateCache(cart.UserID)
}

// GetOrCreate reads the authoritative cart, inserting an empty one when absent.
// Losing the insert race to a concurrent request re-reads the winner's cart.
func (s *CartService) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, err
	}

	cart = domain.NewCart(userID)
	err = s.repo.InsertCart(ctx, cart)
	if errors.Is(err, repository.ErrCartExists) {
		return s.repo.GetCart(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Mutate applies transform under optimistic versioning. The whole read, transform,
// recompute and write sequence is retried on a version conflict.
func (s *CartService) Mutate(ctx context.Context, userID string, transform Transform) (*domain.Cart, error) {
	for attempt := 1; attempt <= maxMutateAttempts; attempt++ {
		cart, err := s.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}

		expected := cart.Version
		if err := transform(cart); err != nil {
			return nil, err
		}
		cart.Recalculate()

		err = s.repo.ReplaceCart(ctx, cart, expected)
		if err == nil {
			s.invalidateCache(userID)
			return cart, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}

		if s.retries != nil {
			s.retries.Inc()
		}
		s.logger.Debug("cart version conflict",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt),
		)
	}

	return nil, ErrConcurrentUpdate
}

// AddItem adds quantity of medicineID, merging with an existing line. A merged
// line is clamped to the per-item ceiling.
func (s *CartService) AddItem(ctx context.Context, userID, medicineID string, quantity int) (*domain.Cart, error) {
	if medicineID == "" {
		return nil, ErrMedicineRequired
	}
	if quantity < 1 {
		quantity = 1
	}
	if quantity > domain.MaxItemQuantity {
		return nil, ErrQuantityExceeded
	}

	medicine, _, err := s.medicines.GetMedicine(ctx, medicineID)
	if errors.Is(err, inventory.ErrMedicineNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup medicine %s: %w", medicineID, err)
	}
	if quantity > medicine.Stock {
		return nil, ErrInsufficientStock
	}

	category := medicine.Category
	if category == "" {
		category = domain.DefaultCategory
	}

	return s.Mutate(ctx, userID, func(cart *domain.Cart) error {
		if idx := cart.FindItem(medicineID); idx != -1 {
			cart.Items[idx].Quantity = min(cart.Items[idx].Quantity+quantity, domain.MaxItemQuantity)
			return nil
		}
		cart.Items = append(cart.Items, domain.CartItem{
			MedicineID:   medicineID,
			MedicineName: medicine.Name,
			Category:     category,
			UnitPrice:    medicine.Price,
			Quantity:     quantity,
		})
		return nil
	})
}

// SetQuantity overwrites a line's quantity. Zero or less removes the line.
func (s *CartService) SetQuantity(ctx context.Context, userID, medicineID string, quantity int) (*domain.Cart, error) {
	if medicineID == "" {
		return nil, ErrMedicineRequired
	}
	if quantity > domain.MaxItemQuantity {
		return nil, ErrQuantityExceeded
	}

	return s.Mutate(ctx, userID, func(cart *domain.Cart) error {
		idx := cart.FindItem(medicineID)
		if idx == -1 {
			return ErrCartItemNotFound
		}
		if quantity <= 0 {
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
			return nil
		}
		cart.Items[idx].Quantity = quantity
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, medicineID string) (*domain.Cart, error) {
	return s.Mutate(ctx, userID, func(cart *domain.Cart) error {
		if idx := cart.FindItem(medicineID); idx != -1 {
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		}
		return nil
	})
}

func (s *CartService) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.Mutate(ctx, userID, func(cart *domain.Cart) error {
		cart.Items = []domain.CartItem{}
		return nil
	})
}

// Drain empties the cart only if it is still at the version of the snapshot
// passed in. A write that landed after that snapshot fails the drain with
// repository.ErrVersionConflict and leaves the stored cart untouched.
func (s *CartService) Drain(ctx context.Context, snapshot *domain.Cart) error {
	emptied := *snapshot
	emptied.Items = []domain.CartItem{}
	emptied.Recalculate()

	if err := s.repo.ReplaceCart(ctx, &emptied, snapshot.Version); err != nil {
		return err
	}
	s.invalidateCache(snapshot.UserID)
	return nil
}

// Lock and Unlock expose the checkout lock to the orchestrator.
func (s *CartService) Lock(ctx context.Context, userID string, now time.Time) (*domain.Cart, error) {
	return s.repo.TryLock(ctx, userID, now, now.Add(domain.CheckoutLockTTL))
}

func (s *CartService) Unlock(ctx context.Context, userID string) error {
	err := s.repo.Unlock(ctx, userID)
	s.invalidateCache(userID)
	return err
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
