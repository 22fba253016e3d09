// Package handlers provides HTTP handlers for the prescription API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mediauth/go-rx/internal/domain/errs"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindInvalidState:
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errs.KindAuthorization:
		jsonError(w, err.Error(), http.StatusForbidden)
	case errs.KindNotFound:
		jsonError(w, err.Error(), http.StatusNotFound)
	default:
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}
