// Package transport executes requests against the Users API on behalf of a
// session manager. It knows nothing about token lifecycle: the caller passes
// the bearer token to attach, and decides what a 401 means.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNetwork wraps failures where no HTTP response was received.
var ErrNetwork = errors.New("network error")

type Transport interface {
	Request(ctx context.Context, method string, path string, body any, authToken string) (*Response, error)
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for any non-2xx response. Message is the server's
// human-readable message, or empty when the body carried none.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseStatusError(status int, body []byte) *StatusError {
	se := &StatusError{Status: status}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return se
	}

	se.Code = parsed.Code
	se.Message = strings.TrimSpace(parsed.Message)
	if se.Message == "" && parsed.Error != nil {
		se.Code = parsed.Error.Code
		se.Message = strings.TrimSpace(parsed.Error.Message)
	}

	return se
}
