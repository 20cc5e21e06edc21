package manager

import (
	"errors"
	"net/http"
	"time"
)

// Admission rejection reasons.
const (
	ReasonHostOverloaded       = "host_overloaded"
	ReasonBackpressureRejected = "backpressure_rejected"
)

// ErrStreamConsumed is returned when a finished or already iterated stream
// is read again.
var ErrStreamConsumed = errors.New("stream already consumed")

// ErrNotStarted is returned by Generate before Start loaded the model.
var ErrNotStarted = errors.New("manager not started")

// ErrDuplicateRequest is returned when a request ID is already in flight.
var ErrDuplicateRequest = errors.New("request id already in flight")

// AdmissionRejected is returned when a request is turned away before it
// touches a slot: the host is overloaded or the backlog is full. Callers
// should back off rather than resubmit immediately.
type AdmissionRejected struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *AdmissionRejected) Error() string { return "admission rejected: " + e.Reason }

func (e *AdmissionRejected) StatusCode() int { return http.StatusTooManyRequests }

// IsAdmissionRejected reports whether err indicates backpressure (return 429).
func IsAdmissionRejected(err error) bool {
	var e *AdmissionRejected
	return errors.As(err, &e)
}

// GenerationTimeout is returned when the wall-clock budget measured from
// admission ran out, or the monitor reclaimed the generation.
type GenerationTimeout struct {
	RequestID string
	After     time.Duration
}

func (e *GenerationTimeout) Error() string {
	return "generation " + e.RequestID + " timed out after " + e.After.String()
}

func (e *GenerationTimeout) StatusCode() int { return http.StatusGatewayTimeout }

func IsGenerationTimeout(err error) bool {
	var e *GenerationTimeout
	return errors.As(err, &e)
}

// GenerationFailed wraps an error raised by the model runtime.
type GenerationFailed struct {
	RequestID string
	Cause     error
}

func (e *GenerationFailed) Error() string {
	return "generation " + e.RequestID + " failed: " + errString(e.Cause)
}

func (e *GenerationFailed) Unwrap() error { return e.Cause }

func (e *GenerationFailed) StatusCode() int { return http.StatusBadGateway }

func IsGenerationFailed(err error) bool {
	var e *GenerationFailed
	return errors.As(err, &e)
}

// StreamingError carries a worker failure delivered through a stream.
type StreamingError struct {
	RequestID string
	Cause     error
}

func (e *StreamingError) Error() string {
	return "stream " + e.RequestID + " failed: " + errString(e.Cause)
}

func (e *StreamingError) Unwrap() error { return e.Cause }

func (e *StreamingError) StatusCode() int { return http.StatusBadGateway }

func IsStreamingError(err error) bool {
	var e *StreamingError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing external dependency (e.g., llama.cpp)
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

func (e dependencyUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
