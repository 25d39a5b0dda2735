// Package errors provides unified error handling with stable error codes.
// Codes map onto gRPC status codes so remote OCR failures keep their meaning.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a class of failure.
type Code string

// Error codes.
const (
	Unknown         Code = "UNKNOWN"
	Internal        Code = "INTERNAL"
	InvalidArgument Code = "INVALID_ARGUMENT"
	NotFound        Code = "NOT_FOUND"
	Unavailable     Code = "UNAVAILABLE"
	Timeout         Code = "TIMEOUT"
	Cancelled       Code = "CANCELLED"
	RateLimited     Code = "RATE_LIMITED"
	OCRFailed       Code = "OCR_FAILED"
	OCRInvalidImage Code = "OCR_INVALID_IMAGE"
	ExtractService  Code = "EXTRACTION_SERVICE_ERROR"
	ExtractParse    Code = "EXTRACTION_PARSE_ERROR"
	StoreFailed     Code = "STORE_FAILED"
	QueueFailed     Code = "QUEUE_FAILED"
	ConfigInvalid   Code = "CONFIG_INVALID"
	ConfigMissing   Code = "CONFIG_MISSING"
	PipelineBusy    Code = "PIPELINE_BUSY"
)

// grpcCodeMap maps error codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	Unknown:         codes.Unknown,
	Internal:        codes.Internal,
	InvalidArgument: codes.InvalidArgument,
	NotFound:        codes.NotFound,
	Unavailable:     codes.Unavailable,
	Timeout:         codes.DeadlineExceeded,
	Cancelled:       codes.Canceled,
	RateLimited:     codes.ResourceExhausted,
	OCRFailed:       codes.Internal,
	OCRInvalidImage: codes.InvalidArgument,
	ExtractService:  codes.Unavailable,
	ExtractParse:    codes.Internal,
	StoreFailed:     codes.Internal,
	QueueFailed:     codes.Unavailable,
	ConfigInvalid:   codes.InvalidArgument,
	ConfigMissing:   codes.FailedPrecondition,
	PipelineBusy:    codes.Aborted,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus lets status.FromError recognise an AppError.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError converts a gRPC error into an AppError.
func FromGRPCError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}
	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message(), Cause: err}
}

// grpcToCode maps gRPC codes back to our error codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.NotFound:
		return NotFound
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.FailedPrecondition:
		return ConfigMissing
	case codes.ResourceExhausted:
		return RateLimited
	default:
		return Unknown
	}
}

// CodeOf returns the code of the first AppError in err's chain, or Unknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout, RateLimited, ExtractService, QueueFailed:
		return true
	case StoreFailed:
		return appErr.Cause != nil && IsRetryable(appErr.Cause)
	default:
		return false
	}
}

// ExtractionService reports that the AI extraction service failed or was unreachable.
func ExtractionService(err error, msg string) *AppError {
	return Wrap(err, ExtractService, msg)
}

// ExtractionParse reports that the AI extraction response could not be parsed.
func ExtractionParse(err error, msg string) *AppError {
	return Wrap(err, ExtractParse, msg)
}

// IsExtractionFailure reports whether err is an extraction service or parse error.
func IsExtractionFailure(err error) bool {
	return IsCode(err, ExtractService) || IsCode(err, ExtractParse)
}
