package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims identify the calling service and, when the call is made on a
// user's behalf, the acting user.
type Claims struct {
	Service string
	ActorID uuid.UUID
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Service string `json:"service"`
	ActorID string `json:"actor_id,omitempty"`
}

func GenerateToken(service string, actorID uuid.UUID, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Service: service,
	}
	if actorID != uuid.Nil {
		claims.ActorID = actorID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: invalid token claims")
	}
	if tc.Service == "" {
		return nil, fmt.Errorf("ValidateToken: missing service claim")
	}

	claims := &Claims{Service: tc.Service}
	if tc.ActorID != "" {
		actorID, err := uuid.Parse(tc.ActorID)
		if err != nil {
			return nil, fmt.Errorf("ValidateToken: invalid actor_id in token: %w", err)
		}
		claims.ActorID = actorID
	}
	return claims, nil
}
