package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog entry. Checkout only ever mutates the Quantity and
// Sold counters, and only through relative adjustments.
type Product struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Price       decimal.Decimal
	Quantity    int
	Sold        int
	Image       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StockAdjustment is a relative stock mutation for one product: checkout
// decrements Quantity and increments Sold by the ordered amount.
type StockAdjustment struct {
	ProductID     string
	QuantityDelta int
	SoldDelta     int
}

// Repository defines persistence operations for products.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	Create(ctx context.Context, p *Product) error
	// AdjustStock applies every adjustment in a single batched statement of
	// relative increments. Implementations must not read-modify-write:
	// concurrent checkouts against the same product have to serialize at
	// the storage layer.
	AdjustStock(ctx context.Context, adjustments []StockAdjustment) error
}
