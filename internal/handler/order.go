package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/doukkan/shop-api/internal/domain/order"
	"github.com/doukkan/shop-api/internal/payment"
)

// maxWebhookBody bounds the raw webhook payload size.
const maxWebhookBody = 1 << 20

type cashOrderRequest struct {
	ShippingAddress  string `json:"shippingAddress"`
	PaymentMethod    string `json:"paymentMethod"`
	CompletedPayment bool   `json:"completedPayment"`
}

type orderSummary struct {
	ID            string          `json:"id"`
	FinalTotal    decimal.Decimal `json:"finalTotal"`
	PaymentMethod string          `json:"paymentMethod"`
	IsPaid        bool            `json:"isPaid"`
	UsedPoints    decimal.Decimal `json:"usedPoints"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type orderResponse struct {
	ID              string                `json:"id"`
	UserID          string                `json:"userId"`
	Items           []orderItemResponse   `json:"items"`
	ShippingAddress order.ShippingAddress `json:"shippingAddress"`
	Totals          order.Totals          `json:"totals"`
	PaymentMethod   string                `json:"paymentMethod"`
	Status          string                `json:"status"`
	IsPaid          bool                  `json:"isPaid"`
	PaidAt          *time.Time            `json:"paidAt,omitempty"`
	IsDelivered     bool                  `json:"isDelivered"`
	DeliveredAt     *time.Time            `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
}

type orderItemResponse struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}
	return orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           items,
		ShippingAddress: o.ShippingAddress,
		Totals:          o.Totals,
		PaymentMethod:   string(o.PaymentMethod),
		Status:          string(o.Status),
		IsPaid:          o.IsPaid,
		PaidAt:          o.PaidAt,
		IsDelivered:     o.IsDelivered,
		DeliveredAt:     o.DeliveredAt,
		CreatedAt:       o.CreatedAt,
	}
}

// CreateCashOrder handles POST /orders/cash/{cartID}: the direct checkout
// path. The order is materialized synchronously inside the request.
func (h *Handler) CreateCashOrder(w http.ResponseWriter, r *http.Request) {
	info := IdentityFromContext(r.Context())

	var req cashOrderRequest
	if r.Body != nil {
		// An empty body means a plain cash order to the cart's address.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	o, err := h.checkout.PlaceCashOrder(r.Context(), order.CashOrderRequest{
		CartID:           chi.URLParam(r, "cartID"),
		UserID:           info.UserID,
		Address:          req.ShippingAddress,
		PaymentMethod:    req.PaymentMethod,
		CompletedPayment: req.CompletedPayment,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "success",
		"order": orderSummary{
			ID:            o.ID,
			FinalTotal:    o.Totals.FinalTotal,
			PaymentMethod: string(o.PaymentMethod),
			IsPaid:        o.IsPaid,
			UsedPoints:    o.Totals.PointsUsed,
			CreatedAt:     o.CreatedAt,
		},
	})
}

// CheckoutSession handles GET /orders/checkout_session/{cartID}: opens a
// gateway-hosted checkout session for the cart.
func (h *Handler) CheckoutSession(w http.ResponseWriter, r *http.Request) {
	info := IdentityFromContext(r.Context())

	address := r.URL.Query().Get("shippingAddress")
	if r.Body != nil {
		var body struct {
			ShippingAddress string `json:"shippingAddress"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.ShippingAddress != "" {
			address = body.ShippingAddress
		}
	}

	session, err := h.checkout.CreateCheckoutSession(r.Context(), order.SessionRequest{
		CartID:  chi.URLParam(r, "cartID"),
		UserID:  info.UserID,
		Address: address,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session": map[string]any{
			"id":  session.ID,
			"url": session.URL,
		},
	})
}

// Webhook handles the gateway's signed push notifications. The signature is
// verified before the payload is trusted; a verification failure changes no
// state and yields 400.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unable to read payload")
		return
	}

	err = h.checkout.HandleWebhook(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondAck(w)
}

// CardSuccess handles GET /orders/card/success?session_id=: the client-side
// confirmation poll. Safe to call any number of times; if the webhook
// already materialized the order this returns it unchanged.
func (h *Handler) CardSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "Missing session_id")
		return
	}

	o, err := h.checkout.ConfirmSession(r.Context(), sessionID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "success",
		"order":   toOrderResponse(o),
	})
}

// ListOrders handles GET /orders (admin): all orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	h.respondOrderList(w, orders)
}

// MyOrders handles GET /orders/my: the caller's orders, newest first.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	info := IdentityFromContext(r.Context())

	orders, err := h.orders.ListByUser(r.Context(), info.UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	h.respondOrderList(w, orders)
}

// GetOrder handles GET /orders/{orderID} (admin).
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   toOrderResponse(o),
	})
}

// MarkPaid handles PUT /orders/{orderID}/pay (admin): marks the order paid
// and awards loyalty points exactly once.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.MarkPaid(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Order marked as paid",
		"data":    toOrderResponse(o),
	})
}

// MarkDelivered handles PUT /orders/{orderID}/deliver (admin).
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.MarkDelivered(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Order marked as delivered",
		"data":    toOrderResponse(o),
	})
}

func (h *Handler) respondOrderList(w http.ResponseWriter, orders []order.Order) {
	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i])
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(resp),
		"data":    resp,
	})
}
