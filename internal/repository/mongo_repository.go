package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himpar21/medisync/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrCartExists      = errors.New("cart already exists")
	ErrVersionConflict = errors.New("cart version conflict")
	ErrCartLocked      = errors.New("cart is locked for checkout")
)

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

func (m *MongoRepository) InsertCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	if cart.LockExpiresAt.IsZero() {
		cart.LockExpiresAt = time.Unix(0, 0).UTC()
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}

	_, err := m.collection.InsertOne(ctx, cart)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCartExists
		}
		return fmt.Errorf("failed to insert cart: %w", err)
	}

	return nil
}

func (m *MongoRepository) ReplaceCart(ctx context.Context, cart *domain.Cart, expectedVersion int64) error {
	now := time.Now().UTC()

	filter := bson.M{"user_id": cart.UserID, "version": expectedVersion}
	update := bson.M{
		"$set": bson.M{
			"items":       cart.Items,
			"total_items": cart.TotalItems,
			"subtotal":    cart.Subtotal,
			"currency":    cart.Currency,
			"updated_at":  now,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to replace cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}

	cart.Version = expectedVersion + 1
	cart.UpdatedAt = now
	return nil
}

func (m *MongoRepository) TryLock(ctx context.Context, userID string, now, until time.Time) (*domain.Cart, error) {
	filter := bson.M{
		"user_id": userID,
		"$or": bson.A{
			bson.M{"is_locked": false},
			bson.M{"lock_expires_at": bson.M{"$lte": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"is_locked":       true,
			"lock_expires_at": until,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var cart domain.Cart
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartLocked
		}
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}

	return &cart, nil
}

func (m *MongoRepository) Unlock(ctx context.Context, userID string) error {
	update := bson.M{
		"$set": bson.M{
			"is_locked":       false,
			"lock_expires_at": time.Unix(0, 0).UTC(),
		},
	}

	if _, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update); err != nil {
		return fmt.Errorf("failed to unlock cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
