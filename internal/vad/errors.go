package vad

import (
	apperrors "github.com/GriffinCanCode/good-listener/backend/vadstream/internal/errors"
)

// Session errors. Wrapped copies match these with errors.Is.
var (
	ErrStopped         = apperrors.New(apperrors.CodeStreamStopped, "engine stopped")
	ErrNotStarted      = apperrors.New(apperrors.CodeStreamNotStarted, "session not started")
	ErrEnded           = apperrors.New(apperrors.CodeStreamEnded, "event stream ended")
	ErrQueueFull       = apperrors.New(apperrors.CodeQueueFull, "queue full")
	ErrMalformedFrame  = apperrors.New(apperrors.CodeMalformedFrame, "malformed frame")
	ErrAdapterFailed   = apperrors.New(apperrors.CodeAdapterFailed, "scorer failed")
	ErrShutdownTimeout = apperrors.New(apperrors.CodeShutdownTimeout, "worker did not stop in time")
)
