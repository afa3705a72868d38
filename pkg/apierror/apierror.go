// Package apierror holds the error codes returned to API clients and the
// helpers that write them. Handlers translate their package errors into one
// of these codes; nothing below the handler layer should import it.
package apierror

import (
	"encoding/json"
	"net/http"
)

const (
	InvalidRequest     = "INVALID_REQUEST"
	InvalidType        = "INVALID_TYPE"
	InvalidCredentials = "INVALID_CREDENTIALS"
	InvalidToken       = "INVALID_TOKEN"
	Unauthorized       = "UNAUTHORIZED"
	TokenExpired       = "TOKEN_EXPIRED"
	UserExists         = "USER_EXISTS"
	UserNotFound       = "USER_NOT_FOUND"
	AlreadyVerified    = "ALREADY_VERIFIED"
	InvalidCode        = "INVALID_CODE"
	CodeAlreadyUsed    = "CODE_ALREADY_USED"
	CodeExpired        = "CODE_EXPIRED"
	RateLimit          = "RATE_LIMIT"
	EmailSendFailed    = "EMAIL_SEND_FAILED"
	NotFound           = "NOT_FOUND"
	ServerError        = "SERVER_ERROR"
)

// Body is the JSON shape of every error response.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Write writes an error body.
func Write(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Body{Error: code, Message: message})
}

// Internal writes the generic 500 response. Callers log the cause first.
func Internal(w http.ResponseWriter) {
	Write(w, http.StatusInternalServerError, ServerError, "Internal server error")
}
