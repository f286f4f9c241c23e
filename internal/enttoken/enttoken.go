// Package enttoken mints and parses the signed entitlement tokens the
// client caches locally. The token is a convenience mirror of the last
// known grant; the server-side store stays the source of truth.
package enttoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmarchant/reverie/internal/model"
)

// subscriptionTokenTTL caps how long a subscription token is trusted
// offline before the client must revalidate against the service.
const subscriptionTokenTTL = 7 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid entitlement token")

type Claims struct {
	Type model.GrantType `json:"typ"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Mint creates a token for the grant. Timed grants carry their real
// expiry; subscription grants get a bounded revalidation window since they
// have no local expiry of their own.
func (s *Signer) Mint(g *model.AccessGrant) (string, error) {
	expiry := time.Now().UTC().Add(subscriptionTokenTTL)
	if g.ExpiresAt != nil {
		expiry = *g.ExpiresAt
	}

	claims := Claims{
		Type: g.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign entitlement token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns its claims.
func (s *Signer) Parse(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
