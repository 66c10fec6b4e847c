package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// User is an account that can own carts and orders. Points is the loyalty
// balance; it only ever grows through relative increments issued by the
// checkout workflow.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Phone     string
	Email     string
	Role      string
	Points    int64
	CreatedAt time.Time
}

// Repository defines persistence operations for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	// IncrementPoints adds delta to the user's loyalty balance as a relative
	// increment, safe under concurrent awards.
	IncrementPoints(ctx context.Context, id string, delta int64) error
}
