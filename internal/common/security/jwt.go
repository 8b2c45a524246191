package security

import (
	"errors"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenManager struct {
	auth *jwtauth.JWTAuth
	ttl  time.Duration
}

func NewTokenManager(secret []byte, ttl time.Duration) *TokenManager {
	return &TokenManager{
		auth: jwtauth.New("HS256", secret, nil),
		ttl:  ttl,
	}
}

// JWTAuth is handed to jwtauth.Verifier in the router.
func (m *TokenManager) JWTAuth() *jwtauth.JWTAuth {
	return m.auth
}

// GenerateToken issues an access token whose subject is the user id.
func (m *TokenManager) GenerateToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": now.Add(m.ttl).Unix(),
		"iat": now.Unix(),
	}
	_, tokenString, err := m.auth.Encode(claims)
	return tokenString, err
}

// GetUserIDFromClaims returns the subject, which must be a user uuid.
func GetUserIDFromClaims(claims map[string]interface{}) (string, error) {
	id, ok := claims["sub"].(string)
	if !ok || id == "" {
		return "", errors.New("sub claim is missing or not a string")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.New("sub claim is not a user id")
	}
	return id, nil
}
