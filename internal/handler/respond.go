// Package handler holds shared HTTP response helpers for the JSON API
// surface.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/roadlabs/roadpay/internal/domain"
)

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse writes a domain error as JSON, mapping its code to an
// HTTP status. Internal details stay out of the body.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	JSON(w, StatusFromError(err), map[string]string{
		"error": domain.ErrorMessage(err),
		"code":  domain.ErrorCode(err),
	})
}

// StatusFromError maps domain error codes onto HTTP statuses.
func StatusFromError(err error) int {
	switch domain.ErrorCode(err) {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
