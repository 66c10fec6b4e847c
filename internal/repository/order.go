package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doukkan/shop-api/internal/domain/order"
)

const (
	orderColumns = `id, user_id, cart_id, session_id, items, shipping_address, totals,
		payment_method, status, is_paid, paid_at, is_delivered, delivered_at, created_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, cart_id, session_id, items,
			shipping_address, totals, payment_method, status, is_paid, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getOrderByIDSQL     = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByCartIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE cart_id = $1`
	listOrdersSQL       = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`
	listUserOrdersSQL   = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	// The is_paid guard makes the paid transition observable exactly once,
	// which is what keeps the loyalty award exactly-once.
	markPaidSQL = `UPDATE orders SET is_paid = TRUE, paid_at = $2
		WHERE id = $1 AND is_paid = FALSE
		RETURNING ` + orderColumns

	markDeliveredSQL = `UPDATE orders SET is_delivered = TRUE, delivered_at = $2, status = 'delivered'
		WHERE id = $1
		RETURNING ` + orderColumns
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items, address and totals are denormalized
// into JSONB columns; a unique index on cart_id backs up the one-order-per-
// cart invariant at the storage layer.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}
	addressJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal shipping address")
	}
	totalsJSON, err := json.Marshal(o.Totals)
	if err != nil {
		return errors.Wrap(err, "marshal totals")
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.CartID, o.SessionID, itemsJSON, addressJSON, totalsJSON,
		o.PaymentMethod, o.Status, o.IsPaid, o.PaidAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// GetByID returns a single order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByCartID resolves the order materialized from the given cart.
func (r *OrderRepository) GetByCartID(ctx context.Context, cartID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByCartIDSQL, cartID)
}

// List returns all orders, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListByUser returns the given user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listUserOrdersSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders for user %q", userID)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// MarkPaid flips an unpaid order to paid. It returns (nil, nil) when the
// order exists but was already paid, and order.ErrNotFound when it does not
// exist at all.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, at time.Time) (*order.Order, error) {
	o, err := r.getOne(ctx, markPaidSQL, id, at)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, order.ErrNotFound) {
		return nil, err
	}
	// No unpaid row matched: distinguish "already paid" from "missing".
	if _, lookupErr := r.GetByID(ctx, id); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, nil
}

// MarkDelivered flips an order to delivered.
func (r *OrderRepository) MarkDelivered(ctx context.Context, id string, at time.Time) (*order.Order, error) {
	return r.getOne(ctx, markDeliveredSQL, id, at)
}

func (r *OrderRepository) getOne(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "query order")
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		itemsJSON   []byte
		addressJSON []byte
		totalsJSON  []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.CartID, &o.SessionID, &itemsJSON, &addressJSON, &totalsJSON,
		&o.PaymentMethod, &o.Status, &o.IsPaid, &o.PaidAt, &o.IsDelivered, &o.DeliveredAt,
		&o.CreatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return order.Order{}, errors.Wrap(err, "unmarshal order items")
	}
	if err := json.Unmarshal(addressJSON, &o.ShippingAddress); err != nil {
		return order.Order{}, errors.Wrap(err, "unmarshal shipping address")
	}
	if err := json.Unmarshal(totalsJSON, &o.Totals); err != nil {
		return order.Order{}, errors.Wrap(err, "unmarshal totals")
	}
	return o, nil
}
