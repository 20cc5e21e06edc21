package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"inferd/internal/manager"
	"inferd/internal/retry"
	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// Error kinds reported in ErrorResponse.Kind.
const (
	KindBadRequest            = "bad_request"
	KindAdmissionRejected     = "admission_rejected"
	KindGenerationTimeout     = "generation_timeout"
	KindGenerationFailed      = "generation_failed"
	KindStreamingError        = "streaming_error"
	KindDependencyUnavailable = "dependency_unavailable"
	KindNotReady              = "not_ready"
	KindConflict              = "conflict"
	KindRetryExhausted        = "retry_exhausted"
	KindInternal              = "internal"
)

// classify maps an error to its HTTP status and kind.
func classify(err error) (int, string) {
	var rej *manager.AdmissionRejected
	var to *manager.GenerationTimeout
	var gf *manager.GenerationFailed
	var se *manager.StreamingError
	var he HTTPError
	switch {
	case errors.As(err, &rej):
		return rej.StatusCode(), KindAdmissionRejected
	case errors.As(err, &to):
		return to.StatusCode(), KindGenerationTimeout
	case errors.As(err, &se):
		return se.StatusCode(), KindStreamingError
	case errors.As(err, &gf):
		return gf.StatusCode(), KindGenerationFailed
	case manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable, KindDependencyUnavailable
	case errors.Is(err, manager.ErrNotStarted):
		return http.StatusServiceUnavailable, KindNotReady
	case errors.Is(err, manager.ErrDuplicateRequest):
		return http.StatusConflict, KindConflict
	case retry.IsExhausted(err):
		return http.StatusServiceUnavailable, KindRetryExhausted
	case errors.As(err, &he):
		return he.StatusCode(), KindInternal
	}
	return http.StatusInternalServerError, KindInternal
}

// writeError writes err as a JSON error, adding Retry-After and counting
// backpressure for admission rejections.
func writeError(w http.ResponseWriter, err error) int {
	status, kind := classify(err)
	var rej *manager.AdmissionRejected
	if errors.As(err, &rej) {
		IncrementBackpressure(rej.Reason)
		if rej.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rej.RetryAfter.Seconds()))))
		}
	}
	writeJSONError(w, status, kind, err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: kind})
}
