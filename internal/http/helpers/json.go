// Package helpers holds small request/response utilities shared by handlers.
package helpers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// ReadJSON decodes JSON tolerantly (unknown fields allowed), validating
// Content-Type and capping the body at 1MB. Returns false if it already
// wrote an HTTP error.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		http.Error(w, "Content-Type must be application/json", http.StatusBadRequest)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// WriteJSON writes a standard JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
