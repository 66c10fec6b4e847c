package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/doukkan/shop-api/internal/domain/cart"
)

type createCartRequest struct {
	Items []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	Address     string          `json:"address"`
	Discount    decimal.Decimal `json:"discount"`
	PointsUsed  decimal.Decimal `json:"pointsUsed"`
	ShippingFee decimal.Decimal `json:"shippingFee"`
	Tips        decimal.Decimal `json:"tips"`
}

type cartResponse struct {
	ID             string              `json:"id"`
	Items          []orderItemResponse `json:"items"`
	Address        string              `json:"address"`
	Discount       decimal.Decimal     `json:"discount"`
	CouponCode     string              `json:"couponCode,omitempty"`
	CouponDiscount decimal.Decimal     `json:"couponDiscount"`
	PointsUsed     decimal.Decimal     `json:"pointsUsed"`
	ShippingFee    decimal.Decimal     `json:"shippingFee"`
	Tips           decimal.Decimal     `json:"tips"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	items := make([]orderItemResponse, len(c.Items))
	for i, item := range c.Items {
		items[i] = orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}
	return cartResponse{
		ID:             c.ID,
		Items:          items,
		Address:        c.Address,
		Discount:       c.Discount,
		CouponCode:     c.CouponCode,
		CouponDiscount: c.CouponDiscount,
		PointsUsed:     c.PointsUsed,
		ShippingFee:    c.ShippingFee,
		Tips:           c.Tips,
	}
}

// CreateCart handles POST /cart: snapshots current product name/price/image
// into the cart's line items so a later catalog change cannot alter a
// pending checkout.
func (h *Handler) CreateCart(w http.ResponseWriter, r *http.Request) {
	info := IdentityFromContext(r.Context())

	var req createCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "Cart items required")
		return
	}

	items := make([]cart.Item, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			respondError(w, http.StatusBadRequest, "Quantity must be greater than 0")
			return
		}
		p, err := h.products.GetByID(r.Context(), item.ProductID)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		items[i] = cart.Item{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  item.Quantity,
			Image:     p.Image,
		}
	}

	c := &cart.Cart{
		ID:          uuid.New().String(),
		UserID:      info.UserID,
		Items:       items,
		Address:     req.Address,
		Discount:    req.Discount,
		PointsUsed:  req.PointsUsed,
		ShippingFee: req.ShippingFee,
		Tips:        req.Tips,
		Status:      cart.StatusActive,
	}
	if err := h.carts.Create(r.Context(), c); err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "success",
		"cart":    toCartResponse(c),
	})
}

// GetCart handles GET /cart/{cartID}.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	info := IdentityFromContext(r.Context())

	c, err := h.carts.GetByID(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if c.UserID != info.UserID && !info.IsAdmin() {
		respondError(w, http.StatusNotFound, "Cart not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"cart":   toCartResponse(c),
	})
}

// ApplyCoupon handles POST /cart/{cartID}/coupon: validates the code
// against the cart's items and stores the computed discount on the cart.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	info := IdentityFromContext(r.Context())

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "Coupon code required")
		return
	}

	cartID := chi.URLParam(r, "cartID")
	c, err := h.carts.GetByID(r.Context(), cartID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if c.UserID != info.UserID {
		respondError(w, http.StatusNotFound, "Cart not found")
		return
	}

	discount, err := h.coupons.Validate(r.Context(), req.Code, c.Items)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	if err := h.carts.SetCoupon(r.Context(), cartID, req.Code, discount.Amount); err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message":        "success",
		"couponCode":     req.Code,
		"couponDiscount": discount.Amount,
		"description":    discount.Description,
	})
}
