package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHS256Issuer(t *testing.T) {
	is, err := NewJWTIssuer(Config{Issuer: "flagq", Subject: "checker-1", SigningKey: "s3cret", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	signed, err := is.Issue(context.Background())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("flagq"))
	if err != nil || !tok.Valid {
		t.Fatalf("token invalid: %v", err)
	}
	if claims.Subject != "checker-1" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if claims.ID == "" {
		t.Error("expected jti")
	}
}

func TestIssuer_UniquePerCall(t *testing.T) {
	is, _ := NewJWTIssuer(Config{SigningKey: "k"})
	a, _ := is.Issue(context.Background())
	b, _ := is.Issue(context.Background())
	if a == b {
		t.Error("expected distinct tokens per issue")
	}
}

func TestRS256IssuerFromFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	is, err := NewJWTIssuer(Config{Issuer: "flagq", PrivateKeyPath: path})
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	signed, err := is.Issue(context.Background())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = jwt.Parse(signed, func(t *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestNewJWTIssuer_Errors(t *testing.T) {
	if _, err := NewJWTIssuer(Config{}); err == nil {
		t.Error("expected error without key material")
	}
	if _, err := NewJWTIssuer(Config{PrivateKeyPath: filepath.Join(t.TempDir(), "missing.pem")}); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestIssue_CancelledContext(t *testing.T) {
	is, _ := NewJWTIssuer(Config{SigningKey: "k"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := is.Issue(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestStatic(t *testing.T) {
	got, err := Static("fixed").Issue(context.Background())
	if err != nil || got != "fixed" {
		t.Errorf("got %q, %v", got, err)
	}
}
