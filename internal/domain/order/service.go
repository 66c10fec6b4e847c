package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/doukkan/shop-api/internal/domain/cart"
	"github.com/doukkan/shop-api/internal/domain/product"
	"github.com/doukkan/shop-api/internal/domain/user"
	"github.com/doukkan/shop-api/internal/payment"
)

// ServiceConfig holds non-dependency configuration for the checkout service.
type ServiceConfig struct {
	// Currency for gateway checkout sessions.
	Currency string
	// SuccessURL and CancelURL are where the gateway redirects the client
	// after a hosted checkout. SuccessURL receives the session ID and backs
	// the pull-path confirmation.
	SuccessURL string
	CancelURL  string
}

// Service coordinates the cart-to-order workflow: the direct cash path, the
// gateway card path, and the reconciliation of webhook and confirmation
// completions into exactly one materialized order per cart.
type Service struct {
	cfg      ServiceConfig
	carts    cart.Repository
	products product.Repository
	orders   Repository
	users    user.Repository
	gateway  payment.Gateway

	now   func() time.Time
	newID func() string
}

// NewService creates a checkout Service with the required dependencies. The
// payment gateway is injected; nothing in this package holds global state.
func NewService(
	cfg ServiceConfig,
	carts cart.Repository,
	products product.Repository,
	orders Repository,
	users user.Repository,
	gateway payment.Gateway,
) *Service {
	return &Service{
		cfg:      cfg,
		carts:    carts,
		products: products,
		orders:   orders,
		users:    users,
		gateway:  gateway,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// CashOrderRequest holds the input for a direct (non-gateway) checkout.
type CashOrderRequest struct {
	CartID  string
	UserID  string
	Address string
	// PaymentMethod is the client-declared method ("cash" or "card");
	// empty means cash.
	PaymentMethod string
	// CompletedPayment is the client's claim that a card payment already
	// went through. Without it a card request is rejected.
	CompletedPayment bool
}

// PlaceCashOrder materializes an order directly from a cart inside the
// request. Cash orders are created unpaid; a card order is only accepted
// here when the payment is declared complete, and is then paid at creation.
func (s *Service) PlaceCashOrder(ctx context.Context, req CashOrderRequest) (*Order, error) {
	method, paidNow, err := selectPaymentPath(req.PaymentMethod, req.CompletedPayment)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.carts.GetByID(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	if snapshot.UserID != req.UserID {
		// A cart ID from another user is indistinguishable from a missing one.
		return nil, cart.ErrNotFound
	}
	if len(snapshot.Items) == 0 {
		return nil, cart.ErrEmpty
	}

	// Atomic claim: a concurrent checkout of the same cart loses here.
	claimed, err := s.carts.Consume(ctx, req.CartID)
	if err != nil {
		return nil, err
	}

	totals := ComputeTotals(claimed)
	addr := ShippingAddress{Address: req.Address}
	if addr.Address == "" {
		addr.Address = claimed.Address
	}

	return s.materialize(ctx, claimed, totals, method, paidNow, addr, "")
}

// SessionRequest holds the input for creating a gateway checkout session.
type SessionRequest struct {
	CartID  string
	UserID  string
	Email   string
	Address string
}

// CreateCheckoutSession prices the cart and opens a hosted checkout session
// at the gateway. The final total and shipping address are captured in the
// session; they are authoritative at reconciliation time even if the cart
// changes afterwards.
func (s *Service) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*payment.Session, error) {
	snapshot, err := s.carts.GetByID(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	if snapshot.UserID != req.UserID {
		return nil, cart.ErrNotFound
	}
	if len(snapshot.Items) == 0 {
		return nil, cart.ErrEmpty
	}

	totals := ComputeTotals(snapshot)
	address := req.Address
	if address == "" {
		address = snapshot.Address
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payment.CreateSessionParams{
		Amount:            totals.FinalTotal,
		Currency:          s.cfg.Currency,
		Description:       "Order payment",
		SuccessURL:        s.cfg.SuccessURL,
		CancelURL:         s.cfg.CancelURL,
		CustomerEmail:     req.Email,
		ClientReferenceID: snapshot.ID,
		Metadata: map[string]string{
			payment.MetadataUserID:  snapshot.UserID,
			payment.MetadataAddress: address,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}
	return session, nil
}

// HandleWebhook consumes a signed gateway notification (the push path).
// Signature verification happens before anything else; a completed checkout
// event drives the shared card materialization.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		return err
	}

	if event.Type != payment.EventCheckoutCompleted {
		zctx.From(ctx).Debug("Ignoring webhook event", zap.String("type", event.Type))
		return nil
	}
	if event.Session.PaymentStatus != payment.PaymentStatusPaid {
		zctx.From(ctx).Warn("Completed checkout event without paid status",
			zap.String("session_id", event.Session.ID))
		return nil
	}

	_, err = s.materializeCardOrder(ctx, &event.Session)
	return err
}

// ConfirmSession handles the client-driven confirmation poll (the pull
// path). It trusts only the gateway's view of the session, never the
// client's claim, and converges on the same materialization as the webhook.
func (s *Service) ConfirmSession(ctx context.Context, sessionID string) (*Order, error) {
	session, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.PaymentStatus != payment.PaymentStatusPaid {
		return nil, ErrPaymentNotCompleted
	}
	return s.materializeCardOrder(ctx, session)
}

// materializeCardOrder is the shared procedure both reconciliation entry
// points converge on. The cart claim is the dedup mechanism: whichever path
// claims the cart first materializes the order; the other path finds the
// cart gone, resolves the existing order by cart ID, and reports success.
func (s *Service) materializeCardOrder(ctx context.Context, session *payment.Session) (*Order, error) {
	cartID := session.ClientReferenceID
	if cartID == "" {
		return nil, errors.New("session has no cart reference")
	}

	claimed, err := s.carts.Consume(ctx, cartID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			// Already processed by the other path: idempotent success.
			existing, lookupErr := s.orders.GetByCartID(ctx, cartID)
			if lookupErr == nil {
				return existing, nil
			}
			return nil, err
		}
		return nil, err
	}

	totals := ComputeTotals(claimed)
	// The gateway's captured amount is authoritative: cart adjustments may
	// have changed between session creation and completion.
	if !session.AmountTotal.IsZero() || totals.FinalTotal.IsZero() {
		totals.FinalTotal = session.AmountTotal
	}

	addr := ShippingAddress{Address: session.Metadata[payment.MetadataAddress]}
	if addr.Address == "" {
		addr.Address = claimed.Address
	}

	return s.materialize(ctx, claimed, totals, MethodCard, true, addr, session.ID)
}

// materialize runs the checkout saga: persist the order, batch-adjust stock,
// delete the cart, and award loyalty points when paid. The steps are
// strictly ordered; cart deletion is last so a failed stock batch leaves
// the claimed cart available for reconciliation.
func (s *Service) materialize(
	ctx context.Context,
	claimed *cart.Cart,
	totals Totals,
	method Method,
	paid bool,
	addr ShippingAddress,
	sessionID string,
) (*Order, error) {
	now := s.now()
	o := &Order{
		ID:              s.newID(),
		UserID:          claimed.UserID,
		CartID:          claimed.ID,
		SessionID:       sessionID,
		Items:           claimed.Items,
		ShippingAddress: addr,
		Totals:          totals,
		PaymentMethod:   method,
		Status:          StatusPending,
		IsPaid:          paid,
		CreatedAt:       now,
	}
	if paid {
		o.PaidAt = &now
	}

	if err := s.orders.Create(ctx, o); err != nil {
		// Nothing durable happened yet: hand the cart back.
		if releaseErr := s.carts.Release(ctx, claimed.ID); releaseErr != nil {
			zctx.From(ctx).Error("Failed to release cart after order create failure",
				zap.String("cart_id", claimed.ID), zap.Error(releaseErr))
		}
		return nil, errors.Wrap(err, "create order")
	}

	adjustments := make([]product.StockAdjustment, len(claimed.Items))
	for i, item := range claimed.Items {
		adjustments[i] = product.StockAdjustment{
			ProductID:     item.ProductID,
			QuantityDelta: -item.Quantity,
			SoldDelta:     item.Quantity,
		}
	}
	if err := s.products.AdjustStock(ctx, adjustments); err != nil {
		// The order exists but stock was not adjusted. Surface a distinct
		// error and keep the claimed cart row for operator reconciliation.
		zctx.From(ctx).Error("Stock adjustment failed after order create",
			zap.String("order_id", o.ID), zap.String("cart_id", claimed.ID), zap.Error(err))
		return nil, &StockAdjustmentError{OrderID: o.ID, Err: err}
	}

	if err := s.carts.Delete(ctx, claimed.ID); err != nil {
		// The cart is already consumed so no duplicate order can follow;
		// a leftover row is harmless and cleaned up out of band.
		zctx.From(ctx).Warn("Failed to delete consumed cart",
			zap.String("cart_id", claimed.ID), zap.Error(err))
	}

	if paid {
		s.awardPoints(ctx, o.UserID, totals.FinalTotal)
	}

	return o, nil
}

// MarkPaid flips a pending order to paid and awards loyalty points exactly
// once. Marking an already-paid order again is a no-op that returns the
// current order.
func (s *Service) MarkPaid(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.MarkPaid(ctx, orderID, s.now())
	if err != nil {
		return nil, err
	}
	if o == nil {
		// Already paid: no second award.
		return s.orders.GetByID(ctx, orderID)
	}

	s.awardPoints(ctx, o.UserID, o.Totals.FinalTotal)
	return o, nil
}

// MarkDelivered flips an order to delivered.
func (s *Service) MarkDelivered(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.MarkDelivered(ctx, orderID, s.now())
}

// awardPoints grants floor(paid/100)*10 loyalty points as a relative
// increment. Callers guarantee it runs at most once per paid event. An
// increment failure is logged for out-of-band replay rather than failing a
// checkout that already completed.
func (s *Service) awardPoints(ctx context.Context, userID string, paid decimal.Decimal) {
	award := LoyaltyAward(paid)
	if award <= 0 {
		return
	}
	if err := s.users.IncrementPoints(ctx, userID, award); err != nil {
		zctx.From(ctx).Error("Failed to award loyalty points",
			zap.String("user_id", userID), zap.Int64("points", award), zap.Error(err))
	}
}

// selectPaymentPath resolves the client-declared method and completion flag
// into the order's payment method and immediate-paid flag. Card without a
// completed payment is rejected outright.
func selectPaymentPath(method string, completed bool) (Method, bool, error) {
	switch method {
	case "", string(MethodCash):
		return MethodCash, false, nil
	case string(MethodCard):
		if !completed {
			return "", false, ErrPaymentNotCompleted
		}
		return MethodCard, true, nil
	default:
		return "", false, errors.Errorf("unsupported payment method %q", method)
	}
}
