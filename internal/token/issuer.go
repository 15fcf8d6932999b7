// Package token issues the short-lived credentials attached to outcome reports.
package token

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer returns a fresh credential for one outcome report.
type Issuer interface {
	Issue(ctx context.Context) (string, error)
}

type Config struct {
	Issuer         string
	Subject        string
	SigningKey     string
	PrivateKeyPath string
	TTL            time.Duration
}

type jwtIssuer struct {
	method  jwt.SigningMethod
	key     any
	issuer  string
	subject string
	ttl     time.Duration
	now     func() time.Time
}

// NewJWTIssuer signs with RS256 when a PEM key path is set and HS256 with the
// shared secret otherwise.
func NewJWTIssuer(cfg Config) (Issuer, error) {
	is := &jwtIssuer{
		issuer:  cfg.Issuer,
		subject: cfg.Subject,
		ttl:     cfg.TTL,
		now:     time.Now,
	}
	if is.ttl <= 0 {
		is.ttl = time.Minute
	}
	switch {
	case cfg.PrivateKeyPath != "":
		pem, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read token key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse token key: %w", err)
		}
		is.method, is.key = jwt.SigningMethodRS256, key
	case cfg.SigningKey != "":
		is.method, is.key = jwt.SigningMethodHS256, []byte(cfg.SigningKey)
	default:
		return nil, errors.New("token: signing key or private key path is required")
	}
	return is, nil
}

func (i *jwtIssuer) Issue(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   i.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign checker token: %w", err)
	}
	return signed, nil
}

// Static returns the same value for every report. Dev setups use it with a
// controller that checks a fixed secret.
type Static string

func (s Static) Issue(context.Context) (string, error) { return string(s), nil }
