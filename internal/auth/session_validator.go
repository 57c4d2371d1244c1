package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

var (
	ErrMissingTokenValidator = errors.New("session validator: token validator required")
	ErrMissingSessionToken   = errors.New("session validator: token required")
	ErrInvalidSessionToken   = errors.New("session validator: invalid token")
	ErrExpiredSessionToken   = errors.New("session validator: token expired")
)

// TokenValidator resolves a raw session token to its user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// SessionValidator extracts bearer tokens from requests and resolves them to user ids.
type SessionValidator struct {
	tokens TokenValidator
}

// NewSessionValidator constructs a validator backed by the provided token validator.
func NewSessionValidator(tokens TokenValidator) (*SessionValidator, error) {
	if tokens == nil {
		return nil, ErrMissingTokenValidator
	}
	return &SessionValidator{tokens: tokens}, nil
}

// BearerToken returns the token carried by an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// ValidateToken validates the supplied token string and returns the user id.
func (v *SessionValidator) ValidateToken(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrMissingSessionToken
	}
	userID, err := v.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %w", ErrExpiredSessionToken, err)
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidSessionToken, err)
	}
	return userID, nil
}

// ValidateRequest extracts the bearer token from the request and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingSessionToken
	}
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return "", ErrMissingSessionToken
	}
	return v.ValidateToken(token)
}
