package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for proxy operations.
var (
	// ErrAlreadyFinalized indicates a mutation of a response that was
	// already sent or cancelled.
	ErrAlreadyFinalized = errors.New("response already finalized")

	// ErrUnsupportedVersion indicates an inbound request whose protocol
	// version cannot be determined.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrBadTransferEncoding indicates a Transfer-Encoding other than chunked.
	ErrBadTransferEncoding = errors.New("unsupported transfer encoding")

	// ErrPumpStopped indicates a pump that was stopped before completion.
	ErrPumpStopped = errors.New("pump stopped")
)

// ProtocolError is a malformed exchange that ends with an error status.
type ProtocolError struct {
	Op      string // Operation that failed
	Status  int    // Status code answered to the client
	Message string // Human-readable message
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error [%s] status=%d: %s: %v", e.Op, e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error [%s] status=%d: %s", e.Op, e.Status, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ProtocolError) Is(target error) bool {
	_, ok := target.(*ProtocolError)
	return ok || errors.Is(e.Cause, target)
}

// UpstreamError is a failure of the backend leg.
type UpstreamError struct {
	Op      string
	Target  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Target != "" {
		if e.Cause != nil {
			return fmt.Sprintf("upstream error [%s] target=%s: %s: %v", e.Op, e.Target, e.Message, e.Cause)
		}
		return fmt.Sprintf("upstream error [%s] target=%s: %s", e.Op, e.Target, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("upstream error [%s]: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream error [%s]: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UpstreamError) Is(target error) bool {
	_, ok := target.(*UpstreamError)
	return ok || errors.Is(e.Cause, target)
}

// ClientError is a failure of the client leg, usually a disconnect.
type ClientError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("client error [%s]: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("client error [%s]", e.Op)
}

// Unwrap returns the underlying error.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ClientError) Is(target error) bool {
	_, ok := target.(*ClientError)
	return ok || errors.Is(e.Cause, target)
}

// NewUnsupportedVersionError creates the error for an unparseable request version.
func NewUnsupportedVersionError(proto string) *ProtocolError {
	return &ProtocolError{
		Op:      "check_version",
		Status:  http.StatusNotImplemented,
		Message: fmt.Sprintf("cannot determine protocol version %q", proto),
		Cause:   ErrUnsupportedVersion,
	}
}

// NewRequestEncodingError creates the error for a bad inbound Transfer-Encoding.
func NewRequestEncodingError(value string) *ProtocolError {
	return &ProtocolError{
		Op:      "check_request_encoding",
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("transfer encoding %q not allowed", value),
		Cause:   ErrBadTransferEncoding,
	}
}

// NewResponseEncodingError creates the error for a bad backend Transfer-Encoding.
func NewResponseEncodingError(value string) *ProtocolError {
	return &ProtocolError{
		Op:      "check_response_encoding",
		Status:  http.StatusNotImplemented,
		Message: fmt.Sprintf("backend transfer encoding %q not supported", value),
		Cause:   ErrBadTransferEncoding,
	}
}

// IsProtocolError checks if an error is a ProtocolError.
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}

// IsUpstreamError checks if an error is an UpstreamError.
func IsUpstreamError(err error) bool {
	var upErr *UpstreamError
	return errors.As(err, &upErr)
}

// IsClientError checks if an error is a ClientError.
func IsClientError(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr)
}

// StatusFor returns the status code answered for err, or 0 when nothing
// must be written.
func StatusFor(err error) int {
	var protoErr *ProtocolError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &protoErr):
		return protoErr.Status
	case IsClientError(err):
		return 0
	default:
		return http.StatusBadGateway
	}
}

// errorType classifies err for metrics.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyFinalized):
		return "finalized"
	case IsProtocolError(err):
		return "protocol"
	case IsClientError(err):
		return "client"
	default:
		return "upstream"
	}
}

// WriteError answers the client for err. Nothing is written for client
// errors. Upstream failures close the connection.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == 0 {
		return
	}
	if status == http.StatusBadGateway {
		w.Header().Set("Connection", "close")
	}
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}
