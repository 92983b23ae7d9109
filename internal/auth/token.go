// Package auth turns bearer tokens into order principals. Token issuance
// lives in the identity service; Issue exists for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const RoleAdmin = "admin"

var ErrInvalidToken = errors.New("auth: invalid token")

type AccessClaims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct{ Secret []byte }

func (v Verifier) Parse(raw string) (orders.Principal, error) {
	var claims AccessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return orders.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return orders.Principal{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return orders.Principal{UserID: id, Email: claims.Email, IsAdmin: claims.Role == RoleAdmin}, nil
}

func (v Verifier) Issue(p orders.Principal, ttl time.Duration) (string, error) {
	role := "user"
	if p.IsAdmin {
		role = RoleAdmin
	}
	claims := AccessClaims{
		Role:  role,
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
}
