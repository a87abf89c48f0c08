package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeSession TokenType = "session"
)

// Claims are the only supported JWT claims shape for this service.
// A session token is bound to one live session: SessionID must match the
// session currently registered under Nickname for the token to be honored.
type Claims struct {
	jwt.RegisteredClaims

	Nickname  string    `json:"nickname"`
	SessionID string    `json:"sid"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
