package repository

import (
	"context"
	"time"

	"github.com/himpar21/medisync/internal/domain"
)

// CartRepository defines the interface for cart data operations.
// Writes never touch the lock fields and lock operations never touch the lines,
// so a cart mutation and a checkout lock can interleave without clobbering each other.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	InsertCart(ctx context.Context, cart *domain.Cart) error
	// ReplaceCart writes lines and totals only if the stored version still equals
	// expectedVersion, and bumps the version by one.
	ReplaceCart(ctx context.Context, cart *domain.Cart, expectedVersion int64) error
	// TryLock takes the checkout lock if it is free or expired at now.
	TryLock(ctx context.Context, userID string, now, until time.Time) (*domain.Cart, error)
	Unlock(ctx context.Context, userID string) error
}
