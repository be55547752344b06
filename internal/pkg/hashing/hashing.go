// Package hashing holds the deterministic digests that bind a signature to
// the petition text and to its own field set. Every function is pure.
//
// Changing any output format here invalidates stored hashes.
package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TypedSignatureVersion is appended to typed signatures before hashing.
const TypedSignatureVersion = "v1.0"

// TimestampLayout is the ISO-8601 UTC millisecond form used in audit hashes.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const (
	otpMin   = 100000
	otpRange = 900000 // otpMin..999999 inclusive
)

// Normalize trims title and body, converts CRLF to LF and joins
// title|body|version. Case and inner whitespace are left alone.
func Normalize(title, body, version string) string {
	t := strings.ReplaceAll(strings.TrimSpace(title), "\r\n", "\n")
	b := strings.ReplaceAll(strings.TrimSpace(body), "\r\n", "\n")
	return t + "|" + b + "|" + version
}

func PetitionHash(title, body, version string) string {
	return sumHex([]byte(Normalize(title, body, version)))
}

// ImageHash digests raw image bytes without decoding them.
func ImageHash(image []byte) string {
	return sumHex(image)
}

func TypedSignatureHash(text string) string {
	return sumHex([]byte(text + "|" + TypedSignatureVersion))
}

// AuditFields is the fixed field set bound by an audit hash. Optional fields
// are empty strings when absent.
type AuditFields struct {
	Comment            string
	Consent            bool
	Country            string
	City               string
	Email              string
	FirstName          string
	IP                 string
	LastName           string
	Method             string
	PetitionHash       string
	SignatureImageHash string
	State              string
	Timestamp          string
	UserAgent          string
	Zip                string
}

// Canonical renders the fields as key:value pairs sorted by key and joined
// with "|".
func (f AuditFields) Canonical() string {
	kv := map[string]string{
		"comment":            f.Comment,
		"consent":            strconv.FormatBool(f.Consent),
		"country":            f.Country,
		"city":               f.City,
		"email":              f.Email,
		"firstName":          f.FirstName,
		"ip":                 f.IP,
		"lastName":           f.LastName,
		"method":             f.Method,
		"petitionHash":       f.PetitionHash,
		"signatureImageHash": f.SignatureImageHash,
		"state":              f.State,
		"timestamp":          f.Timestamp,
		"userAgent":          f.UserAgent,
		"zip":                f.Zip,
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + kv[k]
	}
	return strings.Join(parts, "|")
}

func AuditHash(f AuditFields) string {
	return sumHex([]byte(f.Canonical()))
}

// FormatTimestamp renders t the way audit hashes expect it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func OtpHash(code, email, secret string) string {
	return sumHex([]byte(code + ":" + email + ":" + secret))
}

// VerifyOtpHash recomputes the hash and compares in constant time.
func VerifyOtpHash(code, email, secret, hash string) bool {
	expected := OtpHash(code, email, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(hash)) == 1
}

// OtpCode draws a 6-digit code uniformly from [100000, 999999].
func OtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpRange))
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+otpMin, 10), nil
}

// IsDigest reports whether s looks like a lowercase hex SHA-256 digest.
func IsDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func sumHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
