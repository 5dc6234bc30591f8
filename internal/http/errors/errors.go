// Package errors defines the HTTP error vocabulary and the single place
// where errors become JSON responses.
package errors

import (
	"encoding/json"
	"net/http"
)

// errorResponse controls exactly which fields reach the client.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError writes an HTTP response for the given error. Non-AppError
// values become a generic 500; the cause stays server side.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	resp := errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
