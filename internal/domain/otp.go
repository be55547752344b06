package domain

import (
	"strings"
	"time"
)

// MaxOTPAttempts is how many verification attempts, right or wrong, one
// request accepts before it is spent.
const MaxOTPAttempts = 5

// OTPRequest is one issued passcode. Only the hash of the code is stored.
// CreatedAtMillis and ExpiresAtUnix are numeric mirrors kept for DynamoDB
// (index sort key and TTL attribute).
type OTPRequest struct {
	RequestID       string     `json:"id" dynamodbav:"request_id"`
	Email           string     `json:"email" dynamodbav:"email"`
	CodeHash        string     `json:"-" dynamodbav:"code_hash"`
	OriginIP        string     `json:"origin_ip" dynamodbav:"origin_ip"`
	CreatedAt       time.Time  `json:"created" dynamodbav:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at" dynamodbav:"expires_at"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty" dynamodbav:"consumed_at,omitempty"`
	Attempts        int        `json:"attempts" dynamodbav:"attempts"`
	CreatedAtMillis int64      `json:"-" dynamodbav:"created_ms"`
	ExpiresAtUnix   int64      `json:"-" dynamodbav:"ttl"`
}

// Usable reports whether the request may still be verified against at now.
func (o *OTPRequest) Usable(now time.Time) bool {
	return o.ConsumedAt == nil && o.Attempts < MaxOTPAttempts && o.ExpiresAt.After(now)
}

// TokenPurposeSignature is the only purpose a verification token is issued for.
const TokenPurposeSignature = "signature"

// VerificationClaims is the content of a verification token once validated.
type VerificationClaims struct {
	Email     string
	Purpose   string
	ExpiresAt time.Time
}

// NormalizeEmail is the canonical form emails are hashed, stored and compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
