package jwtinfra

import (
	"testing"
	"time"

	"github.com/go-petition/internal/config"
	"github.com/go-petition/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestProvider(t *testing.T, now *time.Time) *Provider {
	t.Helper()
	p, err := NewProvider(&config.Config{SessionSecret: testSecret, TokenTTL: 30 * time.Minute})
	require.NoError(t, err)
	return p.WithClock(func() time.Time { return *now })
}

func TestNewProvider_RequiresSecret(t *testing.T) {
	_, err := NewProvider(&config.Config{TokenTTL: time.Minute})
	assert.Error(t, err)
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := newTestProvider(t, &now)

	tok, exp, err := p.Issue("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), exp)

	claims, err := p.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, domain.TokenPurposeSignature, claims.Purpose)

	// Tokens are not single-use.
	_, err = p.Verify(tok)
	assert.NoError(t, err)
}

func TestVerify_Expired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := newTestProvider(t, &now)
	tok, _, err := p.Issue("a@example.com")
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	_, err = p.Verify(tok)
	require.Error(t, err)
	assert.Equal(t, domain.CodeExpiredToken, domain.CodeOf(err))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerify_WrongPurpose(t *testing.T) {
	now := time.Now()
	p := newTestProvider(t, &now)
	tok, _, err := p.sign("a@example.com", "password-reset")
	require.NoError(t, err)

	_, err = p.Verify(tok)
	assert.Equal(t, domain.CodeWrongPurpose, domain.CodeOf(err))
}

func TestVerify_Tampered(t *testing.T) {
	now := time.Now()
	p := newTestProvider(t, &now)
	tok, _, err := p.Issue("a@example.com")
	require.NoError(t, err)

	_, err = p.Verify(tok + "x")
	assert.Equal(t, domain.CodeInvalidToken, domain.CodeOf(err))

	_, err = p.Verify("not-a-token")
	assert.Equal(t, domain.CodeInvalidToken, domain.CodeOf(err))
}

func TestVerify_OtherKeyRejected(t *testing.T) {
	now := time.Now()
	p := newTestProvider(t, &now)
	other, err := NewProvider(&config.Config{SessionSecret: testSecret + "-other", TokenTTL: time.Minute})
	require.NoError(t, err)
	tok, _, err := other.Issue("a@example.com")
	require.NoError(t, err)

	_, err = p.Verify(tok)
	assert.Equal(t, domain.CodeInvalidToken, domain.CodeOf(err))
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	now := time.Now()
	p := newTestProvider(t, &now)
	claims := Claims{
		Email:   "a@example.com",
		Purpose: domain.TokenPurposeSignature,
		Version: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = p.Verify(tok)
	assert.Equal(t, domain.CodeInvalidToken, domain.CodeOf(err))
}
