package microauth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the error part of a JSON response. Detail and Stack are only
// filled in debug mode.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Response is the JSON envelope returned by the action handlers.
type Response struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	URL     string     `json:"url,omitempty"`
	Token   string     `json:"token,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeError renders err with its public message. debug adds the cause and
// its stack trace.
func writeError(w http.ResponseWriter, status int, err error, debug bool) {
	body := &ErrorBody{Message: "An unexpected error occurred", Type: "Error"}
	var e *Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Type = string(e.Kind)
		body.Code = e.Code
		body.Field = e.Field
		if debug {
			body.Detail = e.Detail()
			body.Stack = e.Stack()
		}
	} else if debug && err != nil {
		body.Detail = err.Error()
	}
	writeJSON(w, status, &Response{Success: false, Error: body})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch KindOf(err) {
	case KindValidation, KindRequest:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindSecurity:
		return http.StatusForbidden
	case KindConfig:
		return http.StatusForbidden
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
