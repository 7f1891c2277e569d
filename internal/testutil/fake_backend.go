// fake_backend.go - In-process OCR backend for tests
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// UploadedImage is one image part received by the fake upload endpoint.
type UploadedImage struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadCall records one upload_batch request.
type UploadCall struct {
	Images         []UploadedImage
	CaptionGlobal  string
	AdditionalData string
	BatchSize      string
}

// ProcessCall records one process_batch request.
type ProcessCall struct {
	Body          map[string]any
	Authorization string
}

// FakeBackend implements the OCR backend REST contract on an httptest server.
// Responses can be overridden per endpoint; every request is recorded.
type FakeBackend struct {
	Server *httptest.Server

	mu            sync.Mutex
	uploads       []UploadCall
	processes     []ProcessCall
	resultCalls   map[string]int
	results       map[string]any
	resultStatus  map[string]int
	resources     any
	resourcesCode int
	processReply  any
	processCode   int
	uploadReply   any
	uploadCode    int
	gate          chan struct{}
	cleanCalls    int
}

// NewFakeBackend starts a fake backend with success defaults.
func NewFakeBackend() *FakeBackend {
	fb := &FakeBackend{
		resultCalls:  make(map[string]int),
		results:      make(map[string]any),
		resultStatus: make(map[string]int),
		resources: map[string]any{
			"cpu_percent":    30.0,
			"memory_percent": 40.0,
			"queue_status":   map[string]int{"inbox": 0, "processing": 0},
		},
		resourcesCode: http.StatusOK,
		processCode:   http.StatusOK,
		uploadCode:    http.StatusOK,
	}
	fb.processReply = map[string]any{
		"status":     "success",
		"request_id": "req-1",
		"batch_id":   "batch-1",
		"batch_info": map[string]any{"processed_count": 0, "avg_confidence": 0.9},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload_batch", fb.handleUpload)
	mux.HandleFunc("/api/ocr/process_batch", fb.handleProcess)
	mux.HandleFunc("/api/ocr/result/", fb.handleResult)
	mux.HandleFunc("/api/ocr/resources", fb.handleResources)
	mux.HandleFunc("/api/extract_results", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{}, "total": 0})
	})
	mux.HandleFunc("/api/clean_queue", fb.handleClean)
	mux.HandleFunc("/api/clean", fb.handleClean)
	mux.HandleFunc("/api/ocr/queue/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"queue_size": 2, "status": "ok"})
	})
	fb.Server = httptest.NewServer(mux)
	return fb
}

// URL returns the base URL of the fake backend.
func (fb *FakeBackend) URL() string { return fb.Server.URL }

// Close shuts the server down.
func (fb *FakeBackend) Close() {
	fb.mu.Lock()
	if fb.gate != nil {
		close(fb.gate)
		fb.gate = nil
	}
	fb.mu.Unlock()
	fb.Server.Close()
}

// SetUploadReply overrides the upload_batch response.
func (fb *FakeBackend) SetUploadReply(code int, body any) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.uploadCode, fb.uploadReply = code, body
}

// SetProcessReply overrides the process_batch response.
func (fb *FakeBackend) SetProcessReply(code int, body any) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.processCode, fb.processReply = code, body
}

// HoldProcess makes process_batch block until ReleaseProcess is called.
func (fb *FakeBackend) HoldProcess() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.gate = make(chan struct{})
}

// ReleaseProcess unblocks held process_batch calls.
func (fb *FakeBackend) ReleaseProcess() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.gate != nil {
		close(fb.gate)
		fb.gate = nil
	}
}

// SetResult sets the body returned for GET /api/ocr/result/{id}.
func (fb *FakeBackend) SetResult(id string, body any) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.results[id] = body
	delete(fb.resultStatus, id)
}

// FailResult makes GET /api/ocr/result/{id} answer with the given status code.
func (fb *FakeBackend) FailResult(id string, code int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.resultStatus[id] = code
}

// SetResources overrides the resource telemetry response.
func (fb *FakeBackend) SetResources(code int, body any) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.resourcesCode, fb.resources = code, body
}

// Uploads returns the recorded upload calls.
func (fb *FakeBackend) Uploads() []UploadCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]UploadCall(nil), fb.uploads...)
}

// Processes returns the recorded process calls.
func (fb *FakeBackend) Processes() []ProcessCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]ProcessCall(nil), fb.processes...)
}

// ResultCalls returns how many times the result of id was fetched.
func (fb *FakeBackend) ResultCalls(id string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.resultCalls[id]
}

// TotalResultCalls returns the number of result fetches across all ids.
func (fb *FakeBackend) TotalResultCalls() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	total := 0
	for _, n := range fb.resultCalls {
		total += n
	}
	return total
}

// CleanCalls returns how many clean requests were received.
func (fb *FakeBackend) CleanCalls() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.cleanCalls
}

func (fb *FakeBackend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	call := UploadCall{
		CaptionGlobal:  r.FormValue("caption_global"),
		AdditionalData: r.FormValue("additional_data_batch"),
		BatchSize:      r.FormValue("batch_size"),
	}
	var ids []string
	for _, fh := range r.MultipartForm.File["images"] {
		f, err := fh.Open()
		if err != nil {
			continue
		}
		data, _ := io.ReadAll(f)
		f.Close()
		call.Images = append(call.Images, UploadedImage{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
		ids = append(ids, fmt.Sprintf("%d_%s", len(ids)+1, fh.Filename))
	}

	fb.mu.Lock()
	fb.uploads = append(fb.uploads, call)
	code, reply := fb.uploadCode, fb.uploadReply
	fb.mu.Unlock()

	if reply == nil {
		reply = map[string]any{"status": "success", "enqueued_ids": ids}
	}
	writeJSON(w, code, reply)
}

func (fb *FakeBackend) handleProcess(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)

	fb.mu.Lock()
	fb.processes = append(fb.processes, ProcessCall{Body: body, Authorization: r.Header.Get("Authorization")})
	gate := fb.gate
	fb.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	fb.mu.Lock()
	code, reply := fb.processCode, fb.processReply
	fb.mu.Unlock()
	writeJSON(w, code, reply)
}

func (fb *FakeBackend) handleResult(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/ocr/result/")

	fb.mu.Lock()
	fb.resultCalls[id]++
	code, failing := fb.resultStatus[id]
	body, ok := fb.results[id]
	fb.mu.Unlock()

	if failing {
		writeJSON(w, code, map[string]string{"status": "error", "message": "unavailable"})
		return
	}
	if !ok {
		body = map[string]any{"status": "processing", "request_id": id}
	}
	writeJSON(w, http.StatusOK, body)
}

func (fb *FakeBackend) handleResources(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	code, body := fb.resourcesCode, fb.resources
	fb.mu.Unlock()
	writeJSON(w, code, body)
}

func (fb *FakeBackend) handleClean(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	fb.cleanCalls++
	fb.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "removed": 0})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
