package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doukkan/shop-api/internal/domain/auth"
	"github.com/doukkan/shop-api/internal/domain/cart"
	"github.com/doukkan/shop-api/internal/domain/coupon"
	"github.com/doukkan/shop-api/internal/domain/order"
	"github.com/doukkan/shop-api/internal/domain/product"
	"github.com/doukkan/shop-api/internal/domain/user"
	"github.com/doukkan/shop-api/internal/payment"
)

const (
	testPepper        = "pepper"
	testUserKey       = "key-user"
	testAdminKey      = "key-admin"
	testWebhookSecret = "whsec_handler"
)

// --- In-memory fakes ---

type fakeCartRepo struct {
	carts map[string]*cart.Cart
}

func (f *fakeCartRepo) Create(_ context.Context, c *cart.Cart) error {
	f.carts[c.ID] = c
	return nil
}

func (f *fakeCartRepo) GetByID(_ context.Context, id string) (*cart.Cart, error) {
	c, ok := f.carts[id]
	if !ok || c.Status != cart.StatusActive {
		return nil, cart.ErrNotFound
	}
	return c, nil
}

func (f *fakeCartRepo) Consume(_ context.Context, id string) (*cart.Cart, error) {
	c, ok := f.carts[id]
	if !ok || c.Status != cart.StatusActive {
		return nil, cart.ErrNotFound
	}
	c.Status = cart.StatusConsumed
	return c, nil
}

func (f *fakeCartRepo) Release(_ context.Context, id string) error {
	c, ok := f.carts[id]
	if !ok {
		return cart.ErrNotFound
	}
	c.Status = cart.StatusActive
	return nil
}

func (f *fakeCartRepo) Delete(_ context.Context, id string) error {
	delete(f.carts, id)
	return nil
}

func (f *fakeCartRepo) SetCoupon(_ context.Context, id, code string, discount decimal.Decimal) error {
	c, ok := f.carts[id]
	if !ok {
		return cart.ErrNotFound
	}
	c.CouponCode = code
	c.CouponDiscount = discount
	return nil
}

type fakeProductRepo struct {
	products map[string]*product.Product
}

func (f *fakeProductRepo) List(_ context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (f *fakeProductRepo) Create(_ context.Context, p *product.Product) error {
	f.products[p.ID] = p
	return nil
}

func (f *fakeProductRepo) AdjustStock(_ context.Context, adjustments []product.StockAdjustment) error {
	for _, a := range adjustments {
		p, ok := f.products[a.ProductID]
		if !ok {
			return errors.Errorf("product %s not found", a.ProductID)
		}
		p.Quantity += a.QuantityDelta
		p.Sold += a.SoldDelta
	}
	return nil
}

type fakeOrderRepo struct {
	orders map[string]*order.Order
}

func (f *fakeOrderRepo) Create(_ context.Context, o *order.Order) error {
	f.orders[o.ID] = o
	return nil
}

func (f *fakeOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderRepo) GetByCartID(_ context.Context, cartID string) (*order.Order, error) {
	for _, o := range f.orders {
		if o.CartID == cartID {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (f *fakeOrderRepo) List(_ context.Context) ([]order.Order, error) {
	out := make([]order.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeOrderRepo) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) MarkPaid(_ context.Context, id string, at time.Time) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.IsPaid {
		return nil, nil
	}
	o.IsPaid = true
	o.PaidAt = &at
	return o, nil
}

func (f *fakeOrderRepo) MarkDelivered(_ context.Context, id string, at time.Time) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.IsDelivered = true
	o.DeliveredAt = &at
	o.Status = order.StatusDelivered
	return o, nil
}

type fakeUserRepo struct {
	points map[string]int64
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*user.User, error) {
	return &user.User{ID: id, Points: f.points[id]}, nil
}

func (f *fakeUserRepo) IncrementPoints(_ context.Context, id string, delta int64) error {
	f.points[id] += delta
	return nil
}

type fakeAPIKeyRepo struct {
	byHash map[string]*auth.APIKeyInfo
}

func (f *fakeAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := f.byHash[hash]
	if !ok {
		return nil, errors.New("api key not found")
	}
	return info, nil
}

type fakeCouponValidator struct {
	discount *coupon.Discount
	err      error
}

func (f *fakeCouponValidator) Validate(_ context.Context, _ string, _ []coupon.Item) (*coupon.Discount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.discount, nil
}

// --- Test environment ---

type env struct {
	router   http.Handler
	carts    *fakeCartRepo
	products *fakeProductRepo
	orders   *fakeOrderRepo
	users    *fakeUserRepo
	coupons  *fakeCouponValidator
	gateway  *payment.Client
}

func hashKey(key string) string {
	mac := hmac.New(sha256.New, []byte(testPepper))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		carts: &fakeCartRepo{carts: make(map[string]*cart.Cart)},
		products: &fakeProductRepo{products: map[string]*product.Product{
			"p1": {ID: "p1", Name: "Waffle", Price: decimal.RequireFromString("100"), Quantity: 10, Image: "waffle.jpg"},
			"p2": {ID: "p2", Name: "Cake", Price: decimal.RequireFromString("50"), Quantity: 10, Image: "cake.jpg"},
		}},
		orders:  &fakeOrderRepo{orders: make(map[string]*order.Order)},
		users:   &fakeUserRepo{points: make(map[string]int64)},
		coupons: &fakeCouponValidator{},
		gateway: payment.NewClient(payment.ClientConfig{WebhookSecret: testWebhookSecret}),
	}

	svc := order.NewService(
		order.ServiceConfig{Currency: "usd"},
		e.carts, e.products, e.orders, e.users, e.gateway,
	)

	apikeys := &fakeAPIKeyRepo{byHash: map[string]*auth.APIKeyInfo{
		hashKey(testUserKey): {
			ID: "k1", KeyHash: hashKey(testUserKey), UserID: "u1", Name: "user key",
		},
		hashKey(testAdminKey): {
			ID: "k2", KeyHash: hashKey(testAdminKey), UserID: "admin1", Name: "admin key",
			Scopes: []string{auth.ScopeAdmin},
		},
	}}

	security := NewSecurity(apikeys, []byte(testPepper))
	h := NewHandler(svc, e.orders, e.carts, e.products, e.coupons, security)
	e.router = h.Routes()
	return e
}

func (e *env) seedCart(id, userID string) {
	e.carts.carts[id] = &cart.Cart{
		ID:     id,
		UserID: userID,
		Items: []cart.Item{
			{ProductID: "p1", Name: "Waffle", Price: decimal.RequireFromString("100"), Quantity: 2},
		},
		Address: "12 Main St",
		Status:  cart.StatusActive,
	}
}

func (e *env) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("api_key", key)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --- Authentication ---

func TestAuthentication(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"unknown key", "nope", http.StatusUnauthorized},
		{"valid key", testUserKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/products", tt.key, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthenticationBearerHeader(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set("Authorization", "Bearer "+testUserKey)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminEndpointsRequireAdminScope(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/orders", testUserKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, "/orders", testAdminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- Carts ---

func TestCreateCartSnapshotsCatalog(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/cart", testUserKey, map[string]any{
		"items": []map[string]any{
			{"productId": "p1", "quantity": 2},
			{"productId": "p2", "quantity": 1},
		},
		"address": "12 Main St",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	c := body["cart"].(map[string]any)
	items := c["items"].([]any)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	assert.Equal(t, "Waffle", first["name"])
	assert.Equal(t, "waffle.jpg", first["image"])
}

func TestCreateCartRejectsBadQuantity(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/cart", testUserKey, map[string]any{
		"items": []map[string]any{{"productId": "p1", "quantity": 0}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCartUnknownProduct(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/cart", testUserKey, map[string]any{
		"items": []map[string]any{{"productId": "ghost", "quantity": 1}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCartHiddenFromOtherUsers(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	rec := e.do(t, http.MethodGet, "/cart/c1", testUserKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The admin key is bound to a different user but has the admin scope.
	rec = e.do(t, http.MethodGet, "/cart/c1", testAdminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApplyCoupon(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")
	e.coupons.discount = &coupon.Discount{
		Amount:      decimal.RequireFromString("36"),
		Description: "Happy Hours: 18% off",
	}

	rec := e.do(t, http.MethodPost, "/cart/c1/coupon", testUserKey, map[string]any{"code": "HAPPYHRS"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "HAPPYHRS", e.carts.carts["c1"].CouponCode)
	assert.True(t, e.carts.carts["c1"].CouponDiscount.Equal(decimal.RequireFromString("36")))
}

func TestApplyCouponInvalid(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")
	e.coupons.err = coupon.ErrInvalidCoupon

	rec := e.do(t, http.MethodPost, "/cart/c1/coupon", testUserKey, map[string]any{"code": "NOPE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Checkout ---

func TestCreateCashOrder(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	rec := e.do(t, http.MethodPost, "/orders/cash/c1", testUserKey, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["message"])
	o := body["order"].(map[string]any)
	assert.Equal(t, "cash", o["paymentMethod"])
	assert.Equal(t, false, o["isPaid"])

	// Stock moved, cart gone.
	assert.Equal(t, 8, e.products.products["p1"].Quantity)
	assert.Equal(t, 2, e.products.products["p1"].Sold)
	assert.NotContains(t, e.carts.carts, "c1")
}

func TestCreateCashOrderTwiceFails(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	rec := e.do(t, http.MethodPost, "/orders/cash/c1", testUserKey, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/orders/cash/c1", testUserKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, e.orders.orders, 1)
}

func TestCreateCashOrderForeignCart(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "someone-else")

	rec := e.do(t, http.MethodPost, "/orders/cash/c1", testUserKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCardOrderUnconfirmedRejected(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	rec := e.do(t, http.MethodPost, "/orders/cash/c1", testUserKey, map[string]any{
		"paymentMethod": "card",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, e.orders.orders)
	// The cart survives the rejection.
	assert.Equal(t, cart.StatusActive, e.carts.carts["c1"].Status)
}

// --- Webhook reconciliation ---

func webhookPayload(t *testing.T, cartID string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": payment.EventCheckoutCompleted,
		"data": map[string]any{
			"object": map[string]any{
				"id":                  "sess_1",
				"payment_status":      "paid",
				"amount_total":        200,
				"client_reference_id": cartID,
				"metadata":            map[string]string{"user_id": "u1", "shipping_address": "12 Main St"},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func postWebhook(t *testing.T, e *env, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload))
	req.Header.Set(payment.SignatureHeader, signature)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookMaterializesOrder(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	payload := webhookPayload(t, "c1")
	sig := payment.SignPayload([]byte(testWebhookSecret), time.Now().Unix(), payload)

	rec := postWebhook(t, e, payload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, e.orders.orders, 1)
	for _, o := range e.orders.orders {
		assert.Equal(t, order.MethodCard, o.PaymentMethod)
		assert.True(t, o.IsPaid)
		assert.True(t, o.Totals.FinalTotal.Equal(decimal.NewFromInt(200)),
			"gateway amount must win, got %s", o.Totals.FinalTotal)
	}
	// 200 paid awards 20 points.
	assert.Equal(t, int64(20), e.users.points["u1"])
}

func TestWebhookInvalidSignature(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	payload := webhookPayload(t, "c1")
	sig := payment.SignPayload([]byte("wrong-secret"), time.Now().Unix(), payload)

	rec := postWebhook(t, e, payload, sig)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, e.orders.orders)
	assert.Equal(t, cart.StatusActive, e.carts.carts["c1"].Status)
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	payload := webhookPayload(t, "c1")
	sig := payment.SignPayload([]byte(testWebhookSecret), time.Now().Unix(), payload)

	rec := postWebhook(t, e, payload, sig)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postWebhook(t, e, payload, sig)
	assert.Equal(t, http.StatusOK, rec.Code, "duplicate delivery must be acknowledged")

	assert.Len(t, e.orders.orders, 1)
	assert.Equal(t, int64(20), e.users.points["u1"], "points must not be awarded twice")
}

func TestCardSuccessRequiresSessionID(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/orders/card/success", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Orders ---

func TestMyOrdersScopedToCaller(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	rec := e.do(t, http.MethodPost, "/orders/cash/c1", testUserKey, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet, "/orders/my", testUserKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["results"])

	rec = e.do(t, http.MethodGet, "/orders/my", testAdminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(0), body["results"])
}

func TestMarkPaidEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	rec := e.do(t, http.MethodPost, "/orders/cash/c1", testUserKey, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decodeBody(t, rec)["order"].(map[string]any)["id"].(string)

	rec = e.do(t, http.MethodPut, "/orders/"+orderID+"/pay", testUserKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPut, "/orders/"+orderID+"/pay", testAdminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(20), e.users.points["u1"])

	// Idempotent: marking again does not award again.
	rec = e.do(t, http.MethodPut, "/orders/"+orderID+"/pay", testAdminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(20), e.users.points["u1"])
}

func TestMarkDeliveredEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seedCart("c1", "u1")

	rec := e.do(t, http.MethodPost, "/orders/cash/c1", testUserKey, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decodeBody(t, rec)["order"].(map[string]any)["id"].(string)

	rec = e.do(t, http.MethodPut, "/orders/"+orderID+"/deliver", testAdminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["isDelivered"])
	assert.Equal(t, "delivered", data["status"])
}

func TestGetProduct(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/products/p1", testUserKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Waffle", data["name"])

	rec = e.do(t, http.MethodGet, "/products/ghost", testUserKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
