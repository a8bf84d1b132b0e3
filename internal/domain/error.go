package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for expected conditions. Absence-style sentinels
// (ErrModelNotFound, ErrSpecUnavailable, ErrNoInputSchema) signal
// recoverable gaps in the catalog, not failures.
var (
	ErrModelNotFound     = errors.New("model not found")
	ErrSpecUnavailable   = errors.New("model spec unavailable")
	ErrNoInputSchema     = errors.New("no input schema candidate")
	ErrToolNotGenerated  = errors.New("tool not generated; call generate first")
	ErrRerankUnavailable = errors.New("reranker unavailable")
	ErrCredentialMissing = errors.New("queue credential missing")
)

type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeFailedPrecond    ErrorCode = "FAILED_PRECONDITION"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
)

type Error struct {
	Code      ErrorCode
	Op        string
	Message   string
	Cause     error
	Retryable bool
	// HTTPStatus carries the upstream status for failures raised by
	// remote services (e.g. a 429 from the generation queue).
	HTTPStatus int
	Meta       map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:       existing.Code,
			Op:         op,
			Message:    existing.Message,
			Cause:      existing.Cause,
			Retryable:  existing.Retryable,
			HTTPStatus: existing.HTTPStatus,
			Meta:       existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// Upstream builds an UNAVAILABLE error carrying the remote status code.
// Rate-limit responses are marked retryable.
func Upstream(op string, status int, body string) *Error {
	err := E(CodeUnavailable, op, fmt.Sprintf("upstream status %d: %s", status, body), nil)
	err.HTTPStatus = status
	err.Retryable = status == 429 || status >= 500
	return err
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return CodeInvalidArgument, true
	}
	switch {
	case errors.Is(err, ErrModelNotFound), errors.Is(err, ErrSpecUnavailable), errors.Is(err, ErrNoInputSchema):
		return CodeNotFound, true
	case errors.Is(err, ErrToolNotGenerated), errors.Is(err, ErrCredentialMissing):
		return CodeFailedPrecond, true
	case errors.Is(err, ErrRerankUnavailable):
		return CodeUnavailable, true
	case errors.Is(err, context.Canceled):
		return CodeCanceled, true
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded, true
	default:
		return "", false
	}
}

// HTTPStatusFrom extracts the upstream HTTP status carried by err, if any.
func HTTPStatusFrom(err error) (int, bool) {
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.HTTPStatus != 0 {
		return domainErr.HTTPStatus, true
	}
	return 0, false
}
