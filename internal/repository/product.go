package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doukkan/shop-api/internal/domain/product"
)

const (
	productColumns = `id, name, slug, description, price, quantity, sold, image, created_at, updated_at`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	createProductSQL = `INSERT INTO products (id, name, slug, description, price, quantity, sold, image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, slug = EXCLUDED.slug, description = EXCLUDED.description,
			price = EXCLUDED.price, quantity = EXCLUDED.quantity, image = EXCLUDED.image,
			updated_at = now()`

	// One statement applies every line item's relative deltas. The per-row
	// increments serialize at the database, so concurrent checkouts never
	// race through a stale in-process quantity.
	adjustStockSQL = `UPDATE products AS p
		SET quantity = p.quantity + adj.quantity_delta,
		    sold     = p.sold + adj.sold_delta,
		    updated_at = now()
		FROM (SELECT unnest($1::text[]) AS id,
		             unnest($2::int[])  AS quantity_delta,
		             unnest($3::int[])  AS sold_delta) AS adj
		WHERE p.id = adj.id`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// Create upserts a product. Used by seeding and admin catalog management.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	_, err := r.pool.Exec(ctx, createProductSQL,
		p.ID, p.Name, p.Slug, p.Description, p.Price, p.Quantity, p.Sold, p.Image,
	)
	if err != nil {
		return errors.Wrapf(err, "create product %q", p.ID)
	}
	return nil
}

// AdjustStock applies all adjustments in one batched statement of relative
// increments. It fails when any referenced product is missing, so a partial
// batch is never silently applied against a mismatched catalog.
func (r *ProductRepository) AdjustStock(ctx context.Context, adjustments []product.StockAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}

	ids := make([]string, len(adjustments))
	quantityDeltas := make([]int32, len(adjustments))
	soldDeltas := make([]int32, len(adjustments))
	for i, adj := range adjustments {
		ids[i] = adj.ProductID
		quantityDeltas[i] = int32(adj.QuantityDelta)
		soldDeltas[i] = int32(adj.SoldDelta)
	}

	tag, err := r.pool.Exec(ctx, adjustStockSQL, ids, quantityDeltas, soldDeltas)
	if err != nil {
		return errors.Wrap(err, "adjust stock")
	}
	if int(tag.RowsAffected()) != len(adjustments) {
		return errors.Errorf("adjust stock: %d of %d products updated", tag.RowsAffected(), len(adjustments))
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &p.Price, &p.Quantity, &p.Sold,
		&p.Image, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}
