// Package jwt signs and verifies the bearer tokens carried by mobile clients.
package jwt

import (
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/golang-jwt/jwt/v5"
)

// UserClaims is the token payload for an authenticated account.
type UserClaims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
}

// JWT signs and parses HS256 tokens with a single shared secret.
type JWT struct {
	secret []byte
}

// New creates a JWT helper with the given secret.
func New(secret []byte) (*JWT, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty jwt secret")
	}

	return &JWT{secret: secret}, nil
}

// Sign issues a token for the account, valid for ttl.
func (j *JWT) Sign(accountID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   accountID,
		},
		AccountID: accountID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(j.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}

	return token, nil
}

// Parse verifies the token signature and expiry and returns its claims.
func (j *JWT) Parse(raw string) (*UserClaims, error) {
	claims := new(UserClaims)
	token, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return j.secret, nil
		},
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "parse token")
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.AccountID == "" {
		return nil, errors.New("token missing account id")
	}

	return claims, nil
}
