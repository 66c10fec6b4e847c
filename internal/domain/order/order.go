package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/doukkan/shop-api/internal/domain/cart"
)

// Sentinel errors for order operations.
var (
	// ErrNotFound is returned when no order exists for the given ID.
	ErrNotFound = errors.New("order not found")
	// ErrPaymentNotCompleted is returned when a direct checkout declares the
	// card method without a confirmed payment, or when a confirmation poll
	// finds the session unpaid. Card payments are only accepted through the
	// gateway flow; there is no silent downgrade to cash.
	ErrPaymentNotCompleted = errors.New("card payment not completed")
)

// StockAdjustmentError reports a checkout whose order was persisted but
// whose batched stock update failed. The order is not retracted; the
// claimed cart row is kept so an operator can reconcile.
type StockAdjustmentError struct {
	OrderID string
	Err     error
}

func (e *StockAdjustmentError) Error() string {
	return fmt.Sprintf("order %s created but stock adjustment failed: %v", e.OrderID, e.Err)
}

func (e *StockAdjustmentError) Unwrap() error { return e.Err }

// Method enumerates supported payment methods.
type Method string

const (
	MethodCash Method = "cash"
	MethodCard Method = "card"
)

// Status enumerates the order lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ShippingAddress is the delivery destination captured on the order.
type ShippingAddress struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Totals is the order's pricing breakdown, denormalized at materialization
// time so later cart or product changes cannot alter it.
type Totals struct {
	TotalItems     int             `json:"totalItems"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	Discount       decimal.Decimal `json:"discount"`
	CouponCode     string          `json:"couponCode,omitempty"`
	CouponDiscount decimal.Decimal `json:"couponDiscount"`
	ShippingFee    decimal.Decimal `json:"shippingFee"`
	Tips           decimal.Decimal `json:"tips"`
	PointsUsed     decimal.Decimal `json:"pointsUsed"`
	FinalTotal     decimal.Decimal `json:"finalTotal"`
}

// Order is a materialized checkout: a denormalized copy of the cart's line
// items plus the totals breakdown and payment state. Exactly one order
// exists per consumed cart.
type Order struct {
	ID              string
	UserID          string
	CartID          string
	SessionID       string
	Items           []cart.Item
	ShippingAddress ShippingAddress
	Totals          Totals
	PaymentMethod   Method
	Status          Status
	IsPaid          bool
	PaidAt          *time.Time
	IsDelivered     bool
	DeliveredAt     *time.Time
	CreatedAt       time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// GetByCartID resolves the order materialized from a given cart, used
	// by the reconciler to answer duplicate completions idempotently.
	GetByCartID(ctx context.Context, cartID string) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// MarkPaid flips the paid flag if and only if the order is unpaid and
	// returns the updated order. It returns (nil, nil) when the order
	// exists but was already paid, so callers can keep the loyalty award
	// exactly-once.
	MarkPaid(ctx context.Context, id string, at time.Time) (*Order, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) (*Order, error)
}
