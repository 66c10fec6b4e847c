package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/doukkan/shop-api/internal/domain/cart"
	"github.com/doukkan/shop-api/internal/domain/coupon"
	"github.com/doukkan/shop-api/internal/domain/order"
	"github.com/doukkan/shop-api/internal/domain/product"
	"github.com/doukkan/shop-api/internal/payment"
)

// respondJSON writes a struct payload with the given status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError writes the standard error envelope {"error": "..."} using a
// streaming encoder; error messages pass through StrEscape so user input
// can never break the envelope.
func respondError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.StrEscape(message) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// respondAck writes the fixed webhook acknowledgement body.
func respondAck(w http.ResponseWriter) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("received", func(e *jx.Encoder) { e.Bool(true) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Bytes())
}

// respondDomainError maps domain errors onto the HTTP taxonomy: not-found
// lookups to 404, invalid state to 400, dependency failures to 5xx. The
// stock adjustment failure is logged loudly because the order already
// exists and needs operator attention.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *order.StockAdjustmentError

	switch {
	case errors.Is(err, cart.ErrNotFound):
		respondError(w, http.StatusNotFound, "Cart not found")
	case errors.Is(err, order.ErrNotFound):
		respondError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, product.ErrNotFound):
		respondError(w, http.StatusNotFound, "Product not found")
	case errors.Is(err, payment.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "Checkout session not found")
	case errors.Is(err, cart.ErrEmpty):
		respondError(w, http.StatusBadRequest, "Cart is empty")
	case errors.Is(err, order.ErrPaymentNotCompleted):
		respondError(w, http.StatusBadRequest, "Card payment not completed")
	case errors.Is(err, payment.ErrInvalidSignature):
		respondError(w, http.StatusBadRequest, "Invalid webhook signature")
	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponUsageLimitReached):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &stockErr):
		zctx.From(r.Context()).Error("Checkout needs reconciliation",
			zap.String("order_id", stockErr.OrderID), zap.Error(stockErr))
		respondError(w, http.StatusInternalServerError, "Failed to update product stock")
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
