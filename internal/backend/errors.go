package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Backend error codes, as reported in the error_code field or derived from
// the HTTP status.
const (
	CodeFileTooLarge    = "FILE_TOO_LARGE_413"
	CodeBadRequest      = "BAD_REQUEST_400"
	CodeNotFound        = "NOT_FOUND_404"
	CodeBatchProcessing = "BATCH_PROCESSING_ERROR"
	CodeNetwork         = "NETWORK_ERROR"
	CodeUnknown         = "UNKNOWN_ERROR"
)

// NetworkError is a transport-level failure: no response, timeout, or a
// response body that cannot be decoded.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BackendError is a non-2xx response or a body with status "error".
type BackendError struct {
	Op      string
	Status  int
	Code    string
	Message string
	Body    json.RawMessage
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: backend error %d (%s): %s", e.Op, e.Status, e.Code, e.Message)
}

// codeForStatus derives an error code when the backend does not send one.
func codeForStatus(status int) string {
	switch status {
	case http.StatusRequestEntityTooLarge:
		return CodeFileTooLarge
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusNotFound:
		return CodeNotFound
	}
	return CodeUnknown
}

// UserMessage maps any error returned by the client to the fixed set of
// messages shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "Connection error. Check your network connection"
	}

	var beErr *BackendError
	if errors.As(err, &beErr) {
		switch beErr.Code {
		case CodeFileTooLarge:
			return "File is too large (maximum 16MB)"
		case CodeBadRequest:
			return "Bad request. Check the submitted data"
		case CodeNotFound:
			return "Resource not found"
		case CodeBatchProcessing:
			return "Processing error: " + beErr.Message
		}
		if beErr.Message != "" {
			return beErr.Message
		}
		return "Unknown server error"
	}

	return err.Error()
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsBackend reports whether err is an error answer from the backend.
func IsBackend(err error) bool {
	var beErr *BackendError
	return errors.As(err, &beErr)
}
