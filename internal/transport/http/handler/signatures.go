package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-petition/internal/application/signature"
	"github.com/go-petition/internal/pkg/receipt"
	"github.com/go-petition/internal/transport/http/middleware"
)

// SignatureHandler handles signature submission and receipt download.
type SignatureHandler struct {
	svc     signature.Service
	maxBody int64
}

// NewSignatureHandler caps submission bodies at maxBody bytes; see BodyLimit.
func NewSignatureHandler(svc signature.Service, maxBody int64) *SignatureHandler {
	return &SignatureHandler{svc: svc, maxBody: maxBody}
}

func (h *SignatureHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var in signature.SubmitInput
	if !decodeJSON(w, r, &in, h.maxBody) {
		return
	}
	in.IP = middleware.ClientIP(r)
	in.UserAgent = r.UserAgent()
	if in.UserAgent == "" {
		in.UserAgent = "Unknown"
	}
	res, err := h.svc.Submit(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	env := SignatureEnvelope{
		OK:             true,
		SignatureID:    res.SignatureID,
		AuditHash:      res.AuditHash,
		VerifyURL:      res.VerifyURL,
		ReceiptPending: res.ReceiptPending,
	}
	if !res.ReceiptPending {
		env.ReceiptURL = "/v1/receipts/" + res.SignatureID
	}
	writeJSON(w, http.StatusCreated, env)
}

func (h *SignatureHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rc, err := h.svc.OpenReceipt(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", receipt.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="receipt-`+id+`.html"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = io.Copy(w, rc)
}
