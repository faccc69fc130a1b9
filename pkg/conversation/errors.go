package conversation

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the conversation package.
var (
	// ErrInvalidInput indicates a request was rejected before any state was written.
	ErrInvalidInput = errors.New("conversation: invalid input")

	// ErrInvalidAudioEncoding indicates the audio payload is not valid base64
	// or decodes to nothing.
	ErrInvalidAudioEncoding = fmt.Errorf("%w: audio is not valid base64", ErrInvalidInput)

	// ErrUpstreamUnavailable indicates the processing function could not be
	// reached or did not answer in time.
	ErrUpstreamUnavailable = errors.New("conversation: upstream unavailable")

	// ErrStaleCallback marks a callback that no longer applies to its turn.
	// It is logged and never returned to callers.
	ErrStaleCallback = errors.New("conversation: stale callback")

	// ErrMissingFunction indicates no processing function was configured.
	ErrMissingFunction = errors.New("conversation: processing function is required")

	// ErrInvalidConfig indicates a zero timeout, ttl or id generator.
	ErrInvalidConfig = errors.New("conversation: invalid configuration")

	// ErrMissingDependency indicates New was called without a required collaborator.
	ErrMissingDependency = errors.New("conversation: missing dependency")
)

// UpstreamKind classifies an UpstreamError.
type UpstreamKind int

const (
	// UpstreamUnavailable means the function could not be reached.
	UpstreamUnavailable UpstreamKind = iota
	// UpstreamTimeout means the invocation deadline expired.
	UpstreamTimeout
	// UpstreamReported means the function ran and reported a failure.
	UpstreamReported
)

func (k UpstreamKind) String() string {
	switch k {
	case UpstreamTimeout:
		return "timeout"
	case UpstreamReported:
		return "reported"
	default:
		return "unavailable"
	}
}

// UpstreamError describes a failed processing invocation.
type UpstreamError struct {
	// Kind tells the failure modes apart.
	Kind UpstreamKind

	// StatusCode is the status the function reported, if any.
	StatusCode int

	// Message is the human-readable reason recorded on the turn.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("conversation: upstream %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("conversation: upstream %s: %s", e.Kind, e.Message)
}

// Unwrap exposes ErrUpstreamUnavailable for transport failures and timeouts
// and the cause otherwise.
func (e *UpstreamError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != UpstreamReported {
		errs = append(errs, ErrUpstreamUnavailable)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// HTTPStatus maps the error to the status returned to clients.
func (e *UpstreamError) HTTPStatus() int {
	switch e.Kind {
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case UpstreamUnavailable:
		return http.StatusServiceUnavailable
	}
	if e.StatusCode >= 400 {
		return e.StatusCode
	}
	return http.StatusBadGateway
}

// Error checking helpers.

// IsInvalidInput returns true if the request was rejected as malformed.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUpstreamUnavailable returns true if the pipeline could not be reached in time.
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// StatusCode returns the HTTP status that best describes err.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if IsInvalidInput(err) {
		return http.StatusBadRequest
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
