package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/fitstack/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the bearer token payload: the subject is the actor id.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for the actor. Used by operators and tests;
// end-user login lives outside this service.
func IssueToken(secret, userID string, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the token signature and expiry and returns the actor.
func ParseToken(secret, token string) (AuthContext, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return AuthContext{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch claims.Role {
	case model.RoleUser, model.RoleCoach, model.RoleAdmin:
	default:
		return AuthContext{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	if claims.Subject == "" {
		return AuthContext{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return AuthContext{UserID: claims.Subject, Role: claims.Role}, nil
}
