package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for cart lookups and state transitions.
var (
	// ErrNotFound is returned when no cart exists for the given ID, or when
	// the cart has already been consumed by a completed checkout.
	ErrNotFound = errors.New("cart not found")
	// ErrEmpty is returned when a checkout is attempted against a cart
	// with no line items.
	ErrEmpty = errors.New("cart is empty")
)

// Status tracks a cart through its one-shot checkout lifecycle.
type Status string

const (
	// StatusActive marks a cart that can still be mutated and checked out.
	StatusActive Status = "active"
	// StatusConsumed marks a cart claimed by a checkout. A consumed cart is
	// invisible to lookups and is deleted once materialization completes;
	// it only survives when a later saga step failed and an operator needs
	// the snapshot for reconciliation.
	StatusConsumed Status = "consumed"
)

// Item is a single line item held in a cart.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
}

// Cart holds a user's pending line items together with the pricing
// adjustments accumulated before checkout. Checkout reads it exactly once
// as an immutable snapshot.
type Cart struct {
	ID             string
	UserID         string
	Items          []Item
	Address        string
	Discount       decimal.Decimal
	CouponCode     string
	CouponDiscount decimal.Decimal
	PointsUsed     decimal.Decimal
	ShippingFee    decimal.Decimal
	Tips           decimal.Decimal
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository defines persistence operations for carts.
//
// Consume is the concurrency-critical operation: it must atomically flip an
// active cart to consumed and return the claimed snapshot, so that two
// checkouts racing on the same cart cannot both win. Callers that lose the
// race receive ErrNotFound.
type Repository interface {
	Create(ctx context.Context, c *Cart) error
	GetByID(ctx context.Context, id string) (*Cart, error)
	// Consume atomically claims an active cart and returns its snapshot.
	Consume(ctx context.Context, id string) (*Cart, error)
	// Release returns a consumed cart to active. Used as a compensating
	// step when checkout fails before any durable side effect.
	Release(ctx context.Context, id string) error
	// Delete removes the cart row entirely. Strictly the last checkout step.
	Delete(ctx context.Context, id string) error
	// SetCoupon records a validated coupon code and its discount on the cart.
	SetCoupon(ctx context.Context, id, code string, discount decimal.Decimal) error
}
