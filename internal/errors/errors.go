// Package errors provides coded application errors shared by the engine,
// the transport bridge and the remote scorer. Codes map onto gRPC status
// codes so failures crossing the inference boundary keep their meaning.
package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies an application error.
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInternal         Code = "INTERNAL"
	CodeConfigInvalid    Code = "CONFIG_INVALID"
	CodeStreamStopped    Code = "STREAM_STOPPED"
	CodeStreamNotStarted Code = "STREAM_NOT_STARTED"
	CodeStreamEnded      Code = "STREAM_ENDED"
	CodeQueueFull        Code = "QUEUE_FULL"
	CodeMalformedFrame   Code = "MALFORMED_FRAME"
	CodeAdapterFailed    Code = "ADAPTER_FAILED"
	CodeShutdownTimeout  Code = "SHUTDOWN_TIMEOUT"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"
	CodeCancelled        Code = "CANCELLED"
)

var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:          codes.Unknown,
	CodeInternal:         codes.Internal,
	CodeConfigInvalid:    codes.InvalidArgument,
	CodeStreamStopped:    codes.FailedPrecondition,
	CodeStreamNotStarted: codes.FailedPrecondition,
	CodeStreamEnded:      codes.OutOfRange,
	CodeQueueFull:        codes.ResourceExhausted,
	CodeMalformedFrame:   codes.InvalidArgument,
	CodeAdapterFailed:    codes.Internal,
	CodeShutdownTimeout:  codes.DeadlineExceeded,
	CodeUnavailable:      codes.Unavailable,
	CodeTimeout:          codes.DeadlineExceeded,
	CodeCancelled:        codes.Canceled,
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

// Is matches any AppError carrying the same code, so sentinel values such as
// vad.ErrStopped compare equal to wrapped copies with extra metadata.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus lets status.FromError recognise AppErrors returned by handlers.
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

// FromGRPCError converts an error returned by a gRPC call into an AppError.
func FromGRPCError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}
	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message(), Cause: err}
}

func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeMalformedFrame
	case codes.Unavailable:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal:
		return CodeInternal
	case codes.ResourceExhausted:
		return CodeQueueFull
	case codes.FailedPrecondition:
		return CodeStreamNotStarted
	default:
		return CodeUnknown
	}
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeTimeout, CodeQueueFull:
		return true
	default:
		return false
	}
}
