package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error codes shared by the resolver, bridge, executor and HTTP surface.
const (
	CodeParseFailure      = "parse_failure"
	CodeValidationFailure = "validation_failure"
	CodeTransportFailure  = "transport_failure"
	CodeExecutionFailure  = "execution_failure"
	CodeCompletionFailure = "completion_failure"
	CodeNotFound          = "not_found"
	CodePolicyDenied      = "policy_denied"
	CodeTimeout           = "timeout"
	CodeInternal          = "internal_error"
)

// CodedError is implemented by domain errors that carry a machine-readable code.
type CodedError interface {
	error
	ErrorCode() string
}

// ParseError reports that text could not be turned into a tool call.
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string     { return "parse failure: " + e.Detail }
func (e *ParseError) ErrorCode() string { return CodeParseFailure }

// ValidationError reports an unknown tool or a missing required argument.
type ValidationError struct {
	Tool   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Tool == "" {
		return "validation failure: " + e.Detail
	}
	return fmt.Sprintf("validation failure for %s: %s", e.Tool, e.Detail)
}

func (e *ValidationError) ErrorCode() string { return CodeValidationFailure }

// TransportError reports that the executor process could not be reached or
// did not answer. Stage is one of start, initialize, call, decode.
type TransportError struct {
	Stage string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error     { return e.Err }
func (e *TransportError) ErrorCode() string { return CodeTransportFailure }

// NotFoundError is returned by backends when an entity does not exist.
type NotFoundError struct {
	Kind EntityKind
	ID   string
	Hint string
}

func (e *NotFoundError) Error() string {
	label := "Ticket"
	if e.Kind == KindPage {
		label = "Page"
	}
	msg := fmt.Sprintf("%s '%s' not found", label, e.ID)
	if e.Hint != "" {
		msg += " " + e.Hint
	}
	return msg + "."
}

func (e *NotFoundError) ErrorCode() string { return CodeNotFound }

// PolicyError is returned when a resolved call is refused by policy.
type PolicyError struct {
	Detail string
}

func (e *PolicyError) Error() string     { return e.Detail }
func (e *PolicyError) ErrorCode() string { return CodePolicyDenied }

type ErrorInfo struct {
	Code       string
	Message    string
	HTTPStatus int
}

func MapError(err error, fallbackStatus int) ErrorInfo {
	if err == nil {
		return ErrorInfo{Code: CodeInternal, Message: "internal server error", HTTPStatus: fallbackStatus}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	var coded CodedError
	if errors.As(err, &coded) {
		code := coded.ErrorCode()
		switch code {
		case CodeParseFailure, CodeValidationFailure:
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 400}
		case CodeNotFound:
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 404}
		case CodePolicyDenied:
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 403}
		case CodeTransportFailure, CodeCompletionFailure:
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 502}
		case CodeExecutionFailure:
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: 502}
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(lower, "timed out"):
		return ErrorInfo{Code: CodeTimeout, Message: msg, HTTPStatus: 504}
	case strings.Contains(lower, "invalid json"), strings.Contains(lower, "request body must contain a single json object"):
		return ErrorInfo{Code: "invalid_request_schema", Message: msg, HTTPStatus: 400}
	case strings.Contains(lower, "text is required"), strings.Contains(lower, "exceeds"):
		return ErrorInfo{Code: "invalid_request_schema", Message: msg, HTTPStatus: 400}
	case strings.Contains(lower, "http 401"):
		return ErrorInfo{Code: "atlassian_auth_failed", Message: msg, HTTPStatus: 502}
	case strings.Contains(lower, "http 403"):
		return ErrorInfo{Code: "atlassian_permission_denied", Message: msg, HTTPStatus: 502}
	case strings.Contains(lower, "http 404"):
		return ErrorInfo{Code: CodeNotFound, Message: msg, HTTPStatus: 404}
	case strings.Contains(lower, "http 400"), strings.Contains(lower, "http 422"):
		return ErrorInfo{Code: "atlassian_validation_failed", Message: msg, HTTPStatus: 400}
	default:
		code := CodeInternal
		if fallbackStatus >= 400 && fallbackStatus < 500 {
			code = "bad_request"
		} else if fallbackStatus == 502 {
			code = CodeExecutionFailure
		}
		return ErrorInfo{Code: code, Message: msg, HTTPStatus: fallbackStatus}
	}
}
