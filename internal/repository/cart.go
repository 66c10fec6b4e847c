package repository

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/doukkan/shop-api/internal/domain/cart"
)

const (
	cartColumns = `id, user_id, items, address, discount, coupon_code, coupon_discount,
		points_used, shipping_fee, tips, status, created_at, updated_at`

	createCartSQL = `INSERT INTO carts (id, user_id, items, address, discount, coupon_code,
			coupon_discount, points_used, shipping_fee, tips, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getCartSQL = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1 AND status = 'active'`

	// The conditional status flip is what makes cart consumption an atomic
	// claim: only one of several racing checkouts sees the RETURNING row.
	consumeCartSQL = `UPDATE carts SET status = 'consumed', updated_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + cartColumns

	releaseCartSQL = `UPDATE carts SET status = 'active', updated_at = now()
		WHERE id = $1 AND status = 'consumed'`

	deleteCartSQL = `DELETE FROM carts WHERE id = $1`

	setCartCouponSQL = `UPDATE carts SET coupon_code = $2, coupon_discount = $3, updated_at = now()
		WHERE id = $1 AND status = 'active'`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Create persists a new cart. Line items are stored as JSONB.
func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	itemsJSON, err := json.Marshal(c.Items)
	if err != nil {
		return errors.Wrap(err, "marshal cart items")
	}

	_, err = r.pool.Exec(ctx, createCartSQL,
		c.ID, c.UserID, itemsJSON, c.Address, c.Discount, c.CouponCode,
		c.CouponDiscount, c.PointsUsed, c.ShippingFee, c.Tips, cart.StatusActive,
	)
	if err != nil {
		return errors.Wrapf(err, "create cart %q", c.ID)
	}
	return nil
}

// GetByID returns an active cart. Consumed carts are invisible here, which
// is what makes the cart ID a one-shot key.
func (r *CartRepository) GetByID(ctx context.Context, id string) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, getCartSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get cart %q", id)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cart %q", id)
	}
	return &c, nil
}

// Consume atomically claims an active cart and returns the claimed
// snapshot. A concurrent claim of the same cart gets cart.ErrNotFound.
func (r *CartRepository) Consume(ctx context.Context, id string) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, consumeCartSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "consume cart %q", id)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "consume cart %q", id)
	}
	return &c, nil
}

// Release returns a consumed cart to active.
func (r *CartRepository) Release(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, releaseCartSQL, id)
	if err != nil {
		return errors.Wrapf(err, "release cart %q", id)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// Delete removes the cart row entirely.
func (r *CartRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, deleteCartSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete cart %q", id)
	}
	return nil
}

// SetCoupon records a validated coupon on an active cart.
func (r *CartRepository) SetCoupon(ctx context.Context, id, code string, discount decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, setCartCouponSQL, id, code, discount)
	if err != nil {
		return errors.Wrapf(err, "set coupon on cart %q", id)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var (
		c         cart.Cart
		itemsJSON []byte
	)
	err := row.Scan(
		&c.ID, &c.UserID, &itemsJSON, &c.Address, &c.Discount, &c.CouponCode,
		&c.CouponDiscount, &c.PointsUsed, &c.ShippingFee, &c.Tips, &c.Status,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return cart.Cart{}, err
	}
	if err := json.Unmarshal(itemsJSON, &c.Items); err != nil {
		return cart.Cart{}, errors.Wrap(err, "unmarshal cart items")
	}
	return c, nil
}
