// Package backend is a typed client for the OCR batch-processing REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ocr-batch/dashboard/internal/models"
)

// DefaultTimeout bounds every single network operation.
const DefaultTimeout = 30 * time.Second

// Client talks to the OCR backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a client for the backend at baseURL. A zero timeout
// uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// BaseURL returns the backend address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadFile is one image in an upload_batch call.
type UploadFile struct {
	Name     string
	MimeType string
	Source   models.Source
}

// UploadOptions carries the batch-wide fields of an upload_batch call.
type UploadOptions struct {
	CaptionGlobal  string
	AdditionalData json.RawMessage
	BatchSize      int
}

// UploadResponse is the body of a successful upload_batch call.
type UploadResponse struct {
	EnqueuedIDs []string `json:"enqueued_ids"`
}

// ProcessRequest is the JSON body of a process_batch call. APIKey travels
// as a bearer token and is not part of the body.
type ProcessRequest struct {
	Profile              string                       `json:"profile"`
	BatchSize            int                          `json:"batch_size"`
	SorteoCode           string                       `json:"codigo_sorteo,omitempty"`
	WhatsappID           string                       `json:"id_whatsapp,omitempty"`
	UserName             string                       `json:"nombre_usuario,omitempty"`
	Caption              string                       `json:"caption,omitempty"`
	ExactTime            string                       `json:"hora_exacta,omitempty"`
	IndividualParameters map[string]models.Parameters `json:"individual_parameters,omitempty"`
	APIKey               string                       `json:"-"`
}

// BatchInfo is the summary the backend returns for a processed batch.
type BatchInfo struct {
	ProcessedCount      int     `json:"processed_count"`
	ErrorCount          int     `json:"error_count,omitempty"`
	AvgConfidence       float64 `json:"avg_confidence,omitempty"`
	MemoryUsageMB       float64 `json:"memory_usage_mb,omitempty"`
	ProcessingTimeSec   float64 `json:"processing_time_sec,omitempty"`
	ProcessingTimeTotal float64 `json:"processing_time_total,omitempty"` // older backends
}

// ProcessingTime returns the reported batch processing time in seconds.
func (b BatchInfo) ProcessingTime() float64 {
	if b.ProcessingTimeSec > 0 {
		return b.ProcessingTimeSec
	}
	return b.ProcessingTimeTotal
}

// ProcessResponse is the body of a successful process_batch call.
type ProcessResponse struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	BatchID   string    `json:"batch_id"`
	BatchInfo BatchInfo `json:"batch_info"`
}

// QueueStatus is the body of the queue status endpoint.
type QueueStatus struct {
	QueueSize int    `json:"queue_size"`
	Status    string `json:"status"`
}

type envelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Mensaje   string `json:"mensaje"`
	ErrorCode string `json:"error_code"`
}

type resultWire struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result"`
	Message   string          `json:"message"`
}

type resultData struct {
	FullRawOCRText string  `json:"full_raw_ocr_text"`
	Confidence     float64 `json:"confidence"`
}

type resourcesWire struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	QueueStatus   struct {
		Inbox      int `json:"inbox"`
		Processing int `json:"processing"`
	} `json:"queue_status"`
}

// UploadBatch sends the images as multipart form data. The body is streamed
// so large batches are never held in memory at once.
func (c *Client) UploadBatch(ctx context.Context, files []UploadFile, opts UploadOptions) (UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, files, opts))
	}()

	var out UploadResponse
	err := c.do(ctx, "upload_batch", http.MethodPost, "/api/upload_batch", pr, mw.FormDataContentType(), nil, &out, false)
	pr.Close()
	if err != nil {
		return UploadResponse{}, err
	}
	return out, nil
}

func writeUploadForm(mw *multipart.Writer, files []UploadFile, opts UploadOptions) error {
	for _, f := range files {
		if f.Source == nil {
			return fmt.Errorf("file %s has no payload", f.Name)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, escapeQuotes(f.Name)))
		h.Set("Content-Type", f.MimeType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		rc, err := f.Source.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", f.Name, err)
		}
		_, err = io.Copy(part, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("copying %s: %w", f.Name, err)
		}
	}

	fields := map[string]string{
		"caption_global":        opts.CaptionGlobal,
		"additional_data_batch": string(opts.AdditionalData),
		"batch_size":            strconv.Itoa(opts.BatchSize),
	}
	for _, key := range []string{"caption_global", "additional_data_batch", "batch_size"} {
		if err := mw.WriteField(key, fields[key]); err != nil {
			return err
		}
	}
	return mw.Close()
}

// ProcessBatch asks the backend to process the uploaded images.
func (c *Client) ProcessBatch(ctx context.Context, req ProcessRequest) (ProcessResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ProcessResponse{}, fmt.Errorf("encoding process request: %w", err)
	}

	headers := map[string]string{}
	if req.APIKey != "" {
		headers["Authorization"] = "Bearer " + req.APIKey
	}

	var out ProcessResponse
	if err := c.do(ctx, "process_batch", http.MethodPost, "/api/ocr/process_batch", bytes.NewReader(body), "application/json", headers, &out, false); err != nil {
		return ProcessResponse{}, err
	}
	return out, nil
}

// GetResult polls a single item. A body with status "error" is a valid
// Errored result here, not a failure of the call.
func (c *Client) GetResult(ctx context.Context, id string) (models.Result, error) {
	var wire resultWire
	path := "/api/ocr/result/" + url.PathEscape(id)
	if err := c.do(ctx, "result", http.MethodGet, path, nil, "", nil, &wire, true); err != nil {
		return models.Result{}, err
	}

	state, ok := models.ParseResultState(wire.Status)
	if !ok {
		return models.Result{}, &NetworkError{Op: "result", Err: fmt.Errorf("unknown result status %q", wire.Status)}
	}

	switch state {
	case models.ResultCompleted:
		data := models.OCRResult{RequestID: wire.RequestID}
		if len(wire.Result) > 0 && string(wire.Result) != "null" {
			var rd resultData
			if err := json.Unmarshal(wire.Result, &rd); err != nil {
				return models.Result{}, &NetworkError{Op: "result", Err: fmt.Errorf("decoding result payload: %w", err)}
			}
			data.FullText = rd.FullRawOCRText
			data.Confidence = rd.Confidence
			data.Raw = append(json.RawMessage(nil), wire.Result...)
		}
		return models.Completed(id, wire.RequestID, data), nil
	case models.ResultErrored:
		return models.Errored(id, wire.RequestID, wire.Message), nil
	case models.ResultProcessing:
		return models.Processing(id, wire.RequestID), nil
	}
	return models.Pending(id, wire.RequestID), nil
}

// GetResources fetches the backend resource telemetry.
func (c *Client) GetResources(ctx context.Context) (models.ResourceSnapshot, error) {
	var wire resourcesWire
	if err := c.do(ctx, "resources", http.MethodGet, "/api/ocr/resources", nil, "", nil, &wire, false); err != nil {
		return models.ResourceSnapshot{}, err
	}
	return models.ResourceSnapshot{
		CPUPercent:      wire.CPUPercent,
		MemoryPercent:   wire.MemoryPercent,
		QueueInbox:      wire.QueueStatus.Inbox,
		QueueProcessing: wire.QueueStatus.Processing,
		SampledAt:       time.Now(),
	}, nil
}

// ExtractResults returns the consolidated results document as-is.
func (c *Client) ExtractResults(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, "extract_results", http.MethodGet, "/api/extract_results", nil, "", nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// CleanQueue empties the backend inbox.
func (c *Client) CleanQueue(ctx context.Context) (json.RawMessage, error) {
	return c.postEmpty(ctx, "clean_queue", "/api/clean_queue")
}

// Clean runs a full backend cleanup.
func (c *Client) Clean(ctx context.Context) (json.RawMessage, error) {
	return c.postEmpty(ctx, "clean", "/api/clean")
}

// QueueStatus fetches the backend queue status.
func (c *Client) QueueStatus(ctx context.Context) (QueueStatus, error) {
	var out QueueStatus
	if err := c.do(ctx, "queue_status", http.MethodGet, "/api/ocr/queue/status", nil, "", nil, &out, false); err != nil {
		return QueueStatus{}, err
	}
	return out, nil
}

func (c *Client) postEmpty(ctx context.Context, op, path string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, op, http.MethodPost, path, strings.NewReader("{}"), "application/json", nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs one request bounded by the client timeout and decodes the
// JSON body into out. Non-2xx responses, and bodies with status "error"
// unless allowErrorStatus is set, become a *BackendError.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, headers map[string]string, out any, allowErrorStatus bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("reading body: %w", err)}
	}

	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		// a body that is not an object (e.g. an array) has no envelope
		_ = json.Unmarshal(data, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || (env.Status == "error" && !allowErrorStatus) {
		return newBackendError(op, resp.StatusCode, env, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decoding body: %w", err)}
	}
	return nil
}

func newBackendError(op string, status int, env envelope, body []byte) *BackendError {
	msg := env.Mensaje
	if msg == "" {
		msg = env.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := env.ErrorCode
	if code == "" {
		code = codeForStatus(status)
	}
	if code == CodeUnknown && env.Status == "error" && status >= 200 && status <= 299 && op == "process_batch" {
		code = CodeBatchProcessing
	}
	be := &BackendError{Op: op, Status: status, Code: code, Message: msg}
	if json.Valid(body) {
		be.Body = append(json.RawMessage(nil), body...)
	}
	return be
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
