package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for gateway interactions.
var (
	// ErrInvalidSignature is returned when a webhook payload fails
	// signature verification. Nothing in the payload may be trusted.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrSessionNotFound is returned when the gateway has no session for
	// the given identifier.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// EventCheckoutCompleted is the gateway event type emitted when a hosted
// checkout session finishes with a successful payment.
const EventCheckoutCompleted = "checkout.session.completed"

// Session payment states as reported by the gateway.
const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// Metadata keys attached to checkout sessions at creation time. The values
// captured here are authoritative during reconciliation: the cart may have
// changed between session creation and completion.
const (
	MetadataUserID  = "user_id"
	MetadataAddress = "shipping_address"
)

// Session is a gateway-hosted checkout flow instance.
type Session struct {
	ID                string
	URL               string
	Status            string
	PaymentStatus     string
	AmountTotal       decimal.Decimal
	Currency          string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
}

// Event is a webhook notification whose signature has been verified.
type Event struct {
	ID      string
	Type    string
	Session Session
}

// CreateSessionParams holds the input for creating a checkout session.
type CreateSessionParams struct {
	Amount            decimal.Decimal
	Currency          string
	Description       string
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
}

// Gateway abstracts the third-party payment provider. It is injected into
// the checkout service so tests can substitute a fake; no package-level
// client exists.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*Session, error)
	// VerifyWebhook checks the payload signature against the shared webhook
	// secret and decodes the event. It returns ErrInvalidSignature without
	// decoding anything when verification fails.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
	RetrieveSession(ctx context.Context, id string) (*Session, error)
}
