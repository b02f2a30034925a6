package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Code classifies a failure for retry decisions and HTTP reporting.
type Code string

const (
	CodeRateLimit  Code = "RATE_LIMIT"
	CodeTimeout    Code = "TIMEOUT"
	CodeAuth       Code = "AUTH_ERROR"
	CodeMalformed  Code = "MALFORMED_RESPONSE"
	CodeNetwork    Code = "NETWORK_ERROR"
	CodeServer     Code = "SERVER_ERROR"
	CodeValidation Code = "VALIDATION_ERROR"
	CodeStream     Code = "STREAM_ERROR"
)

// APIError is a classified failure. HTTPStatus is the status an HTTP
// surface should report for this class when the response has not started
// streaming yet.
type APIError struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"httpStatus"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// statusFor maps each class to the HTTP status reported pre-stream:
// 429 for rate limit, 504 for timeout, 502 for upstream and network
// trouble, 400 for bad input.
func statusFor(code Code) int {
	switch code {
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeAuth, CodeNetwork, CodeServer:
		return http.StatusBadGateway
	case CodeMalformed, CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func retryableFor(code Code) bool {
	switch code {
	case CodeRateLimit, CodeTimeout, CodeNetwork, CodeServer, CodeStream:
		return true
	default:
		return false
	}
}

// NewError builds an APIError for code with a derived status and
// retryability.
func NewError(code Code, message string) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		HTTPStatus: statusFor(code),
		Retryable:  retryableFor(code),
	}
}

// Validation is a caller-input failure, reported before any side effect.
func Validation(message string) *APIError {
	return NewError(CodeValidation, message)
}

// FromStatus classifies an upstream HTTP status.
func FromStatus(status int, body string) *APIError {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return NewError(CodeRateLimit, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(CodeAuth, msg)
	case status == http.StatusBadRequest:
		return NewError(CodeMalformed, msg)
	default:
		return NewError(CodeServer, fmt.Sprintf("upstream status %d: %s", status, msg))
	}
}

// Classify maps an arbitrary error to an APIError. Unknown errors are
// SERVER_ERROR and retryable by default; a nil error still yields a fully
// populated result so callers never have to nil-check the classification.
func Classify(err error) *APIError {
	if err == nil {
		return NewError(CodeServer, "unknown error")
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeTimeout, err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(CodeTimeout, err.Error())
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return NewError(CodeTimeout, err.Error())
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "network"):
		return NewError(CodeNetwork, err.Error())
	default:
		return NewError(CodeServer, err.Error())
	}
}
