package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/go-petition/internal/domain"
)

// writeJSONError writes the error envelope used by the handlers.
func writeJSONError(w http.ResponseWriter, status int, code domain.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"code": string(code), "message": msg},
	})
}
