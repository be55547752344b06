package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-petition/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// ErrorEnvelope carries a typed reason code clients can branch on.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    domain.Code       `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// TokenEnvelope wraps a successful OTP verification.
type TokenEnvelope struct {
	OK        bool   `json:"ok"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// SignatureEnvelope wraps a recorded signature.
type SignatureEnvelope struct {
	OK             bool   `json:"ok"`
	SignatureID    string `json:"signatureId"`
	AuditHash      string `json:"auditHash"`
	VerifyURL      string `json:"verifyUrl,omitempty"`
	ReceiptURL     string `json:"receiptUrl,omitempty"`
	ReceiptPending bool   `json:"receiptPending"`
}

// VerificationEnvelope is the public audit lookup result. Only Valid is set
// when the hash is unknown.
type VerificationEnvelope struct {
	Valid    bool             `json:"valid"`
	Message  string           `json:"message,omitempty"`
	Petition *PetitionSummary `json:"petition,omitempty"`
	SignedAt string           `json:"signedAt,omitempty"`
	Location string           `json:"location,omitempty"`
}

type PetitionSummary struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// PetitionEnvelope is the public view of a petition.
type PetitionEnvelope struct {
	Slug         string `json:"slug"`
	Title        string `json:"title"`
	Version      string `json:"version"`
	BodyMarkdown string `json:"bodyMarkdown"`
	GoalCount    int    `json:"goalCount"`
	IsLive       bool   `json:"isLive"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and writes the error envelope. Untyped
// errors are logged and reported as INTERNAL without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorEnvelope{Error: ErrorBody{
			Code:    domain.CodeInternal,
			Message: "internal server error",
		}})
		return
	}
	writeJSON(w, statusFor(err), ErrorEnvelope{Error: ErrorBody{
		Code:    de.Code,
		Message: de.Message,
		Fields:  de.Fields,
	}})
}

func writeBadBody(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, ErrorEnvelope{Error: ErrorBody{
		Code:    domain.CodeInvalidInput,
		Message: "invalid request body",
	}})
}

func statusFor(err error) int {
	if domain.CodeOf(err) == domain.CodeDeliveryFailed {
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// defaultBodyBytes bounds JSON bodies that carry no image.
const defaultBodyBytes = 64 << 10

// BodyLimit returns the request body cap for a signature submission whose
// decoded image may be up to imageBytes. It covers the base64 expansion of
// the data URL plus room for the other fields, and never drops below 1MiB.
func BodyLimit(imageBytes int) int64 {
	const floor, overhead = 1 << 20, 64 << 10
	n := int64(imageBytes+2)/3*4 + overhead
	if n < floor {
		return floor
	}
	return n
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadBody(w)
		return false
	}
	return true
}
