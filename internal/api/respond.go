package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeErrorContext(w http.ResponseWriter, status int, code, details string, ctx map[string]any) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details, Context: ctx})
}
