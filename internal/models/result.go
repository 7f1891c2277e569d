package models

import "encoding/json"

// ResultState is the tag of a polled OCR result.
type ResultState string

const (
	ResultPending    ResultState = "pending"
	ResultProcessing ResultState = "processing"
	ResultCompleted  ResultState = "completed"
	ResultErrored    ResultState = "error"
)

// ParseResultState validates a backend status string.
func ParseResultState(s string) (ResultState, bool) {
	switch ResultState(s) {
	case ResultPending, ResultProcessing, ResultCompleted, ResultErrored:
		return ResultState(s), true
	}
	return "", false
}

// IsTerminal reports whether the state ends polling for an item.
func (s ResultState) IsTerminal() bool {
	return s == ResultCompleted || s == ResultErrored
}

// OCRResult is the payload of a completed item.
type OCRResult struct {
	RequestID  string          `json:"requestId,omitempty" msgpack:"requestId,omitempty"`
	FullText   string          `json:"fullText,omitempty" msgpack:"fullText,omitempty"`
	Confidence float64         `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty" msgpack:"-"`
}

// Result is a polled item result. Exactly one of Data (Completed) or
// Message (Errored) is meaningful, selected by State.
type Result struct {
	ID        string      `json:"id"`
	State     ResultState `json:"state"`
	RequestID string      `json:"requestId,omitempty"`
	Data      *OCRResult  `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Pending builds a pending result.
func Pending(id, requestID string) Result {
	return Result{ID: id, State: ResultPending, RequestID: requestID}
}

// Processing builds a processing result.
func Processing(id, requestID string) Result {
	return Result{ID: id, State: ResultProcessing, RequestID: requestID}
}

// Completed builds a completed result carrying data.
func Completed(id, requestID string, data OCRResult) Result {
	return Result{ID: id, State: ResultCompleted, RequestID: requestID, Data: &data}
}

// Errored builds an errored result carrying the backend message.
func Errored(id, requestID, message string) Result {
	return Result{ID: id, State: ResultErrored, RequestID: requestID, Message: message}
}
