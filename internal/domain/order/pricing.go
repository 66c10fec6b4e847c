package order

import (
	"github.com/shopspring/decimal"

	"github.com/doukkan/shop-api/internal/domain/cart"
)

// ComputeTotals derives the order totals breakdown from a cart snapshot.
// It is a pure function:
//
//	totalPrice = Σ(item.price × item.quantity)
//	totalItems = Σ(item.quantity)
//	finalTotal = max(0, totalPrice − discount − couponDiscount − pointsUsed
//	                   + shippingFee + tips)
//
// The final total is floored at zero: discounts and redeemed points can
// never produce a payable-negative order.
func ComputeTotals(c *cart.Cart) Totals {
	totalPrice := decimal.Zero
	totalItems := 0
	for _, item := range c.Items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		totalPrice = totalPrice.Add(item.Price.Mul(qty))
		totalItems += item.Quantity
	}

	final := totalPrice.
		Sub(c.Discount).
		Sub(c.CouponDiscount).
		Sub(c.PointsUsed).
		Add(c.ShippingFee).
		Add(c.Tips)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return Totals{
		TotalItems:     totalItems,
		TotalPrice:     totalPrice,
		Discount:       c.Discount,
		CouponCode:     c.CouponCode,
		CouponDiscount: c.CouponDiscount,
		ShippingFee:    c.ShippingFee,
		Tips:           c.Tips,
		PointsUsed:     c.PointsUsed,
		FinalTotal:     final.Round(2),
	}
}

// LoyaltyAward returns the points granted for a paid amount: 10 points per
// full 100 paid. Amounts under 100 award nothing.
func LoyaltyAward(paid decimal.Decimal) int64 {
	hundreds := paid.Div(decimal.NewFromInt(100)).Floor().IntPart()
	if hundreds <= 0 {
		return 0
	}
	return hundreds * 10
}
