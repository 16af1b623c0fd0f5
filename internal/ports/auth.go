package ports

import "context"

// AuthService issues and validates the shared access token.
type AuthService interface {
	Login(ctx context.Context, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (bool, error)
}
