// Package cache holds a read-through copy of carts. The copy is never used for
// writes: every mutation reads the store, bumps the version and then drops the key.
package cache

import (
	"context"
	"errors"

	"github.com/himpar21/medisync/internal/domain"
)

const keyPrefix = "medisync:cart:"

var ErrCacheMiss = errors.New("cart not cached")

type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

func cacheKey(userID string) string {
	return keyPrefix + userID
}
