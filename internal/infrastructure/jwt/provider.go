package jwtinfra

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-petition/internal/config"
	"github.com/go-petition/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// tokenVersion tags the claim layout; bump it to retire every issued token.
const tokenVersion = 1

// keyInfo binds the derived key to verification tokens so the same secret
// can pepper OTP hashes without sharing key material.
const keyInfo = "petition verification token v1"

// Claims holds the JWT payload fields.
type Claims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	Version int    `json:"ver"`
	jwt.RegisteredClaims
}

// Provider signs and verifies HS256 verification tokens. It keeps no record
// of issued tokens: a token stays valid for repeated use until it expires.
type Provider struct {
	key    []byte
	expiry time.Duration
	now    func() time.Time
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(cfg.SessionSecret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return &Provider{key: key, expiry: cfg.TokenTTL, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// Issue returns a token allowing one signature submission for email.
func (p *Provider) Issue(email string) (string, time.Time, error) {
	return p.sign(email, domain.TokenPurposeSignature)
}

func (p *Provider) sign(email, purpose string) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(p.expiry)
	claims := Claims{
		Email:   email,
		Purpose: purpose,
		Version: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks integrity, purpose and expiry. Every failure is a typed
// *domain.Error of class domain.ErrUnauthorized.
func (p *Provider) Verify(tokenStr string) (*domain.VerificationClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeExpiredToken, "verification token has expired")
		}
		return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeInvalidToken, "invalid verification token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Version != tokenVersion || claims.Email == "" {
		return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeInvalidToken, "invalid verification token")
	}
	if claims.Purpose != domain.TokenPurposeSignature {
		return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeWrongPurpose, "verification token has the wrong purpose")
	}
	expiresAt := claims.ExpiresAt.Time
	if !expiresAt.After(p.now()) {
		return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeExpiredToken, "verification token has expired")
	}
	return &domain.VerificationClaims{
		Email:     claims.Email,
		Purpose:   claims.Purpose,
		ExpiresAt: expiresAt,
	}, nil
}
