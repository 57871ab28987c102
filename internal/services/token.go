package services

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pulse-sentiment/apiserver/internal/apperr"
)

const defaultTokenTTL = 15 * time.Minute

// TokenIssuer signs and validates HS256 access tokens whose subject is a username.
type TokenIssuer struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer constructs an issuer. A non-positive defaultTTL means 15 minutes.
func NewTokenIssuer(secret string, defaultTTL time.Duration) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token signing secret is required")
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultTokenTTL
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// Issue signs a token for subject expiring after ttl, or the issuer default
// when ttl is not positive.
func (i *TokenIssuer) Issue(subject string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	now := i.now()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate verifies the signature and expiry of tokenString and returns its
// subject. Every failure is an apperr.InvalidCredential.
func (i *TokenIssuer) Validate(tokenString string) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return i.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", apperr.New(apperr.InvalidCredential, "validate token", err)
	}
	if !token.Valid {
		return "", apperr.New(apperr.InvalidCredential, "validate token", errors.New("invalid token"))
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", apperr.New(apperr.InvalidCredential, "validate token", errors.New("missing subject"))
	}
	return claims.Subject, nil
}
