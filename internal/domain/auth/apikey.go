package auth

import "context"

// ScopeAdmin marks an API key as belonging to an administrator. Keys without
// it authenticate as regular users.
const ScopeAdmin = "admin"

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	UserID  string
	Name    string
	Scopes  []string
}

// IsAdmin reports whether the key carries the admin scope.
func (i *APIKeyInfo) IsAdmin() bool {
	for _, s := range i.Scopes {
		if s == ScopeAdmin {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
