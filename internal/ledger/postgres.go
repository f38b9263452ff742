// Package ledger stores orders in Postgres. Orders are written once at checkout;
// afterwards AppendStatus is the only mutation, and it writes the status and its
// history row in one transaction.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/himpar21/medisync/internal/domain"
	"github.com/lib/pq"
)

const (
	uniqueViolation = "23505"

	orderColumns = `id, order_number, user_id, items, total_items, subtotal, tax, delivery_fee,
	    total_amount, currency, pickup_date, pickup_label, address, status, payment_status,
	    inventory_status, COALESCE(idempotency_key, ''), note, placed_at, created_at, updated_at`
)

type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "ledger_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts the order and its initial history in one transaction.
func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var idempotencyKey sql.NullString
	if order.IdempotencyKey != "" {
		idempotencyKey = sql.NullString{String: order.IdempotencyKey, Valid: true}
	}

	query := `INSERT INTO orders (id, order_number, user_id, items, total_items, subtotal, tax,
	              delivery_fee, total_amount, currency, pickup_date, pickup_label, address, status,
	              payment_status, inventory_status, idempotency_key, note, placed_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)`

	_, err = tx.ExecContext(ctx, query,
		order.ID,
		order.OrderNumber,
		order.UserID,
		itemsJSON,
		order.TotalItems,
		order.Subtotal,
		order.Tax,
		order.DeliveryFee,
		order.TotalAmount,
		order.Currency,
		order.PickupSlot.Date,
		order.PickupSlot.Label,
		order.Address,
		order.Status,
		order.PaymentStatus,
		order.InventoryStatus,
		idempotencyKey,
		order.Note,
		order.PlacedAt,
		order.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if pqErr.Constraint == "orders_user_idempotency_key_key" {
				return ErrDuplicateIdempotencyKey
			}
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, entry := range order.StatusHistory {
		if err := insertHistory(ctx, tx, order.ID, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

// FindByOwnerOrAll lists the newest orders: every order for a privileged role,
// otherwise only userID's.
func (r *Repository) FindByOwnerOrAll(ctx context.Context, userID string, role domain.Role) ([]domain.Order, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if role.Privileged() {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, listLimit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, listLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if err := r.attachHistory(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// FindByID returns ErrOrderNotFound for a missing order, one the caller may not
// see, or an id that is not a UUID.
func (r *Repository) FindByID(ctx context.Context, id, userID string, role domain.Role) (*domain.Order, error) {
	orderID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrOrderNotFound
	}

	var row *sql.Row
	if role.Privileged() {
		row = r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	} else {
		row = r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID)
	}
	return r.loadOne(ctx, row)
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2
		 ORDER BY created_at DESC LIMIT 1`, userID, key)
	return r.loadOne(ctx, row)
}

// AppendStatus moves the order from update.From to update.Status and records
// the history entry. A concurrent move away from From yields ErrStatusChanged.
func (r *Repository) AppendStatus(ctx context.Context, id uuid.UUID, update domain.StatusUpdate) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append status: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, inventory_status = $2, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		update.Status, update.InventoryStatus, now, id, update.From)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check order: %w", err)
		}
		if !exists {
			return nil, ErrOrderNotFound
		}
		return nil, ErrStatusChanged
	}

	entry := update.Entry
	if entry.At.IsZero() {
		entry.At = now
	}
	if err := insertHistory(ctx, tx, id, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append status: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return r.loadOne(ctx, row)
}

func insertHistory(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, entry domain.StatusEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_status_history (order_id, status, updated_by, note, at) VALUES ($1, $2, $3, $4, $5)`,
		orderID, entry.Status, entry.UpdatedBy, entry.Note, entry.At)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func (r *Repository) loadOne(ctx context.Context, row *sql.Row) (*domain.Order, error) {
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	orders := []domain.Order{*order}
	if err := r.attachHistory(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *Repository) attachHistory(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID.String()
		index[orders[i].ID] = i
		orders[i].StatusHistory = []domain.StatusEntry{}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, status, updated_by, note, at FROM order_status_history
		 WHERE order_id = ANY($1::uuid[]) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID uuid.UUID
		var entry domain.StatusEntry
		if err := rows.Scan(&orderID, &entry.Status, &entry.UpdatedBy, &entry.Note, &entry.At); err != nil {
			return fmt.Errorf("scan status history: %w", err)
		}
		if i, ok := index[orderID]; ok {
			orders[i].StatusHistory = append(orders[i].StatusHistory, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON []byte
	err := s.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&itemsJSON,
		&order.TotalItems,
		&order.Subtotal,
		&order.Tax,
		&order.DeliveryFee,
		&order.TotalAmount,
		&order.Currency,
		&order.PickupSlot.Date,
		&order.PickupSlot.Label,
		&order.Address,
		&order.Status,
		&order.PaymentStatus,
		&order.InventoryStatus,
		&order.IdempotencyKey,
		&order.Note,
		&order.PlacedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return &order, nil
}
