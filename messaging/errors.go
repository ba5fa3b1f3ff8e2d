// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"unicode/utf8"
)

// Standard Matrix error codes returned in RequestError.Code. The
// homeserver may return codes outside this list; compare against
// RequestError.Code directly for anything exotic.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken  = "M_MISSING_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
)

// RequestError is a structured Matrix API error: the server responded
// with a non-success status and a standard JSON error body.
type RequestError struct {
	// Code is the Matrix error code, like "M_NOT_FOUND".
	Code string `json:"errcode"`
	// Message is the human-readable error description.
	Message string `json:"error"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsRequestError reports whether err is a RequestError carrying the
// given Matrix error code.
func IsRequestError(err error, code string) bool {
	var requestErr *RequestError
	return errors.As(err, &requestErr) && requestErr.Code == code
}

// UnauthorizedError means the request's credentials were rejected (or
// absent where required). It is separated from the generic
// RequestError because callers react differently: a bad token needs
// re-authentication, not a retry.
type UnauthorizedError struct {
	// Code is the Matrix error code from the response body, if the
	// server provided one (e.g. "M_UNKNOWN_TOKEN").
	Code string
	// Message is the human-readable description, if any.
	Message string
}

func (e *UnauthorizedError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("unauthorized (%s): %s", e.Code, e.Message)
	case e.Message != "":
		return "unauthorized: " + e.Message
	default:
		return "unauthorized"
	}
}

// ConnectionError is a transport-level failure: the request never
// produced a usable HTTP response, or an established stream's socket
// failed mid-read. The server-side state is unknown.
type ConnectionError struct {
	// Op names the operation that failed, like "streaming sync read".
	Op string
	// Err is the underlying transport error.
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError is a ConnectionError whose cause was a deadline: a
// transport-level timeout, a cancelled context deadline, or an HTTP
// 504 from an intermediary. errors.As(err, **ConnectionError) matches
// a TimeoutError too, so callers that only care about "the network
// failed" need a single check.
type TimeoutError struct {
	ConnectionError
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return &e.ConnectionError }

// UnexpectedResponseError means the server answered, but with
// something the protocol does not allow at that point: a non-JSON
// error body, a wrong content type on a stream handshake, or a sync
// payload that does not decode.
type UnexpectedResponseError struct {
	// Message describes what was wrong with the response.
	Message string
	// Err is the underlying decode error, if any.
	Err error
}

func (e *UnexpectedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected response: %s: %v", e.Message, e.Err)
	}
	return "unexpected response: " + e.Message
}

func (e *UnexpectedResponseError) Unwrap() error { return e.Err }

// classifyResponse turns a non-success HTTP response into the
// appropriate error type. A 504 becomes a TimeoutError (the request
// died at an intermediary, not at the homeserver), a 401 becomes an
// UnauthorizedError, any other status with a parseable Matrix error
// body becomes a RequestError, and everything else is an
// UnexpectedResponseError carrying a body excerpt for diagnostics.
func classifyResponse(op string, statusCode int, body []byte) error {
	var wire struct {
		Code    string `json:"errcode"`
		Message string `json:"error"`
	}
	hasMatrixError := json.Unmarshal(body, &wire) == nil && wire.Code != ""

	switch {
	case statusCode == http.StatusGatewayTimeout:
		return &TimeoutError{ConnectionError{
			Op:  op,
			Err: errors.New("gateway timeout (HTTP 504)"),
		}}
	case statusCode == http.StatusUnauthorized:
		return &UnauthorizedError{Code: wire.Code, Message: wire.Message}
	case hasMatrixError:
		return &RequestError{
			Code:       wire.Code,
			Message:    wire.Message,
			StatusCode: statusCode,
		}
	default:
		return &UnexpectedResponseError{
			Message: fmt.Sprintf("%s returned HTTP %d with non-Matrix body %q",
				op, statusCode, excerpt(body)),
		}
	}
}

// classifyTransport turns an error from the HTTP client or the stream
// socket into a ConnectionError, upgraded to TimeoutError when the
// cause was a deadline.
func classifyTransport(op string, err error) error {
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{ConnectionError{Op: op, Err: err}}
	}
	return &ConnectionError{Op: op, Err: err}
}

// excerpt bounds a response body for inclusion in an error message.
func excerpt(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	trimmed := body[:limit]
	// Don't cut a multi-byte rune in half at the truncation point.
	for len(trimmed) > 0 && !utf8.RuneStart(trimmed[len(trimmed)-1]) {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return string(trimmed) + "..."
}
