package handler

import (
	"net/http"
	"time"

	"github.com/go-petition/internal/application/otp"
	"github.com/go-petition/internal/transport/http/middleware"
)

// OTPHandler handles one-time code issuance and verification.
type OTPHandler struct {
	svc otp.Service
}

func NewOTPHandler(svc otp.Service) *OTPHandler { return &OTPHandler{svc: svc} }

func (h *OTPHandler) Request(w http.ResponseWriter, r *http.Request) {
	var in otp.RequestInput
	if !decodeJSON(w, r, &in, defaultBodyBytes) {
		return
	}
	in.IP = middleware.ClientIP(r)
	if err := h.svc.RequestOTP(r.Context(), in); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{OK: true})
}

func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var in otp.VerifyInput
	if !decodeJSON(w, r, &in, defaultBodyBytes) {
		return
	}
	res, err := h.svc.VerifyOTP(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenEnvelope{
		OK:        true,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
