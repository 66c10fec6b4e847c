// Package handler exposes the HTTP surface: checkout, reconciliation,
// carts, catalog reads, and admin order actions.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/doukkan/shop-api/internal/domain/cart"
	"github.com/doukkan/shop-api/internal/domain/coupon"
	"github.com/doukkan/shop-api/internal/domain/order"
	"github.com/doukkan/shop-api/internal/domain/product"
)

// Handler bundles the HTTP endpoints with their domain dependencies.
type Handler struct {
	checkout *order.Service
	orders   order.Repository
	carts    cart.Repository
	products product.Repository
	coupons  coupon.Validator
	security *Security
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	checkout *order.Service,
	orders order.Repository,
	carts cart.Repository,
	products product.Repository,
	coupons coupon.Validator,
	security *Security,
) *Handler {
	return &Handler{
		checkout: checkout,
		orders:   orders,
		carts:    carts,
		products: products,
		coupons:  coupons,
		security: security,
	}
}

// Routes returns the API router. The webhook route is deliberately outside
// the API-key middleware: it authenticates by payload signature instead.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/payments/webhook", h.Webhook)
	r.Get("/orders/card/success", h.CardSuccess)

	r.Group(func(r chi.Router) {
		r.Use(h.security.Authenticate)

		r.Get("/products", h.ListProducts)
		r.Get("/products/{productID}", h.GetProduct)

		r.Post("/cart", h.CreateCart)
		r.Get("/cart/{cartID}", h.GetCart)
		r.Post("/cart/{cartID}/coupon", h.ApplyCoupon)

		r.Post("/orders/cash/{cartID}", h.CreateCashOrder)
		r.Get("/orders/checkout_session/{cartID}", h.CheckoutSession)
		r.Get("/orders/my", h.MyOrders)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Put("/orders/{orderID}/pay", h.MarkPaid)
			r.Put("/orders/{orderID}/deliver", h.MarkDelivered)
		})
	})

	return r
}
