package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/ekilie/ekilisync/internal/middleware"
)

const (
	msgCannotConnect   = "Cannot connect to server. Please check your internet connection and try again."
	msgTimeout         = "Request timeout. Please try again."
	msgCannotReach     = "Cannot reach server. Please check your connection."
	msgSessionExpired  = "Your session has expired. Please sign in again."
	msgInvalidResponse = "Invalid response structure from server"
)

// ErrInvalidResponse is returned when a 2xx body does not have the expected shape.
var ErrInvalidResponse = errors.New(msgInvalidResponse)

// NetworkError means no response was received.
type NetworkError struct {
	Message string
	Err     error
}

func (e *NetworkError) Error() string { return e.Message }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string { return e.Message }

// SessionExpiredError means a token refresh failed while authenticating a request.
type SessionExpiredError struct {
	Err error
}

func (e *SessionExpiredError) Error() string { return msgSessionExpired }
func (e *SessionExpiredError) Unwrap() error { return e.Err }

// IsStatus reports whether err is a ServerError with the given status code.
func IsStatus(err error, status int) bool {
	var se *ServerError
	return errors.As(err, &se) && se.StatusCode == status
}

// normalizeTransportError maps an error from http.Client.Do onto the client taxonomy.
func normalizeTransportError(ctx context.Context, err error) error {
	if errors.Is(err, middleware.ErrSessionExpired) {
		return &SessionExpiredError{Err: err}
	}

	// Cancellation by the caller is not a network condition.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}

	return &NetworkError{Message: networkMessage(err), Err: err}
}

func networkMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return msgTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return msgCannotConnect
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return msgCannotConnect
	}

	return msgCannotReach
}

// serverError builds the error for a non-2xx response. The message is the
// body's "error" field, then its "message" field, then a generic fallback.
func serverError(status int, body []byte) *ServerError {
	return &ServerError{StatusCode: status, Message: serverMessage(status, body)}
}

func serverMessage(status int, body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := text(payload.Error); msg != "" {
			return msg
		}
		if msg := text(payload.Message); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("Server error: %d", status)
}

// text reads a field that is either a string or an object carrying "message".
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}
