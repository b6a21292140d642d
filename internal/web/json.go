package web

import (
	"encoding/json"
	"net/http"
)

// ErrorJSON is the body of every error response.
type ErrorJSON struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

// OKJSON acknowledges an accepted reading.
type OKJSON struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorJSON{Status: "error", Message: msg})
}
