package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// SignatureHeader carries the webhook signature in the form
// "t=<unix>,v1=<hex hmac-sha256 of `<unix>.<payload>`>".
const SignatureHeader = "Shop-Signature"

// signatureTolerance bounds how old a webhook timestamp may be before the
// signature is rejected, limiting replay of captured payloads.
const signatureTolerance = 5 * time.Minute

// ClientConfig configures the HTTP payment gateway client.
type ClientConfig struct {
	// BaseURL is the gateway API root, e.g. https://api.gateway.example.
	BaseURL string
	// SecretKey authenticates outbound API calls.
	SecretKey string
	// WebhookSecret is the shared secret webhook signatures are verified
	// against.
	WebhookSecret string
	// Timeout bounds each outbound call.
	Timeout time.Duration
}

// Client implements Gateway over the provider's REST API. Outbound calls go
// through a circuit breaker so a degraded gateway fails fast instead of
// tying up request handlers.
type Client struct {
	http          *resty.Client
	breaker       *gobreaker.CircuitBreaker[*resty.Response]
	webhookSecret []byte
	now           func() time.Time
}

var _ Gateway = (*Client)(nil)

// NewClient creates a gateway client from the given configuration.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		http:          httpClient,
		breaker:       breaker,
		webhookSecret: []byte(cfg.WebhookSecret),
		now:           time.Now,
	}
}

// sessionWire is the gateway's session representation on the wire.
type sessionWire struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       json.Number       `json:"amount_total"`
	Currency          string            `json:"currency"`
	CustomerEmail     string            `json:"customer_email"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

func (w *sessionWire) toSession() (*Session, error) {
	s := &Session{
		ID:                w.ID,
		URL:               w.URL,
		Status:            w.Status,
		PaymentStatus:     w.PaymentStatus,
		Currency:          w.Currency,
		CustomerEmail:     w.CustomerEmail,
		ClientReferenceID: w.ClientReferenceID,
		Metadata:          w.Metadata,
	}
	if w.AmountTotal != "" {
		amount, err := decimalFromNumber(w.AmountTotal)
		if err != nil {
			return nil, errors.Wrap(err, "parse amount_total")
		}
		s.AmountTotal = amount
	}
	return s, nil
}

// CreateCheckoutSession creates a hosted checkout session with a fixed
// amount and the metadata reconciliation later relies on.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	body := map[string]any{
		"amount_total":        params.Amount,
		"currency":            params.Currency,
		"description":         params.Description,
		"success_url":         params.SuccessURL,
		"cancel_url":          params.CancelURL,
		"customer_email":      params.CustomerEmail,
		"client_reference_id": params.ClientReferenceID,
		"metadata":            params.Metadata,
	}

	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(body).
			Post("/v1/checkout/sessions")
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, errors.Errorf("create checkout session: gateway returned %d: %s",
			resp.StatusCode(), resp.String())
	}

	var wire sessionWire
	if err := json.Unmarshal(resp.Body(), &wire); err != nil {
		return nil, errors.Wrap(err, "decode session response")
	}
	return wire.toSession()
}

// RetrieveSession fetches the current state of a checkout session.
func (c *Client) RetrieveSession(ctx context.Context, id string) (*Session, error) {
	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			Get("/v1/checkout/sessions/" + id)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "retrieve session %s", id)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrSessionNotFound
	default:
		return nil, errors.Errorf("retrieve session %s: gateway returned %d: %s",
			id, resp.StatusCode(), resp.String())
	}

	var wire sessionWire
	if err := json.Unmarshal(resp.Body(), &wire); err != nil {
		return nil, errors.Wrap(err, "decode session response")
	}
	return wire.toSession()
}

// eventWire is the webhook event envelope on the wire.
type eventWire struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object sessionWire `json:"object"`
	} `json:"data"`
}

// VerifyWebhook validates the signature header against the shared secret
// and decodes the event. The payload is untrusted until the HMAC check
// passes; any malformed or stale signature yields ErrInvalidSignature.
func (c *Client) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	ts, provided, err := parseSignatureHeader(signature)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	age := c.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return nil, ErrInvalidSignature
	}

	expected := ComputeSignature(c.webhookSecret, ts, payload)
	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return nil, ErrInvalidSignature
	}

	var wire eventWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, errors.Wrap(err, "decode webhook event")
	}
	session, err := wire.Data.Object.toSession()
	if err != nil {
		return nil, errors.Wrap(err, "decode webhook session")
	}

	return &Event{
		ID:      wire.ID,
		Type:    wire.Type,
		Session: *session,
	}, nil
}

// ComputeSignature returns the HMAC-SHA256 of "<ts>.<payload>" keyed with
// secret. Exported for tests and for the fake gateway in the local stack.
func ComputeSignature(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignPayload renders a complete signature header value for payload at ts.
func SignPayload(secret []byte, ts int64, payload []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(ComputeSignature(secret, ts, payload)))
}

func parseSignatureHeader(header string) (ts int64, sig []byte, err error) {
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, errors.Wrap(err, "parse timestamp")
			}
		case "v1":
			sig, err = hex.DecodeString(v)
			if err != nil {
				return 0, nil, errors.Wrap(err, "decode signature")
			}
		}
	}
	if ts == 0 || len(sig) == 0 {
		return 0, nil, errors.New("missing signature components")
	}
	return ts, sig, nil
}

func decimalFromNumber(n json.Number) (d decimal.Decimal, err error) {
	return decimal.NewFromString(n.String())
}
