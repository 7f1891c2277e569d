package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_UploadBatch(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	c := NewClient(fb.URL(), time.Second)

	files := []UploadFile{
		{Name: "a.png", MimeType: "image/png", Source: models.BytesSource("aaa")},
		{Name: "b.jpg", MimeType: "image/jpeg", Source: models.BytesSource("bbbb")},
	}
	resp, err := c.UploadBatch(context.Background(), files, UploadOptions{
		CaptionGlobal:  "lote",
		AdditionalData: json.RawMessage(`{"k":"v"}`),
		BatchSize:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1_a.png", "2_b.jpg"}, resp.EnqueuedIDs)

	uploads := fb.Uploads()
	require.Len(t, uploads, 1)
	require.Len(t, uploads[0].Images, 2)
	assert.Equal(t, "a.png", uploads[0].Images[0].Name)
	assert.Equal(t, "image/png", uploads[0].Images[0].ContentType)
	assert.Equal(t, "aaa", string(uploads[0].Images[0].Data))
	assert.Equal(t, "lote", uploads[0].CaptionGlobal)
	assert.Equal(t, `{"k":"v"}`, uploads[0].AdditionalData)
	assert.Equal(t, "5", uploads[0].BatchSize)
}

func TestClient_UploadBatchMissingSource(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	c := NewClient(fb.URL(), time.Second)

	_, err := c.UploadBatch(context.Background(), []UploadFile{{Name: "a.png", MimeType: "image/png"}}, UploadOptions{})
	assert.Error(t, err)
}

func TestClient_ProcessBatch(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	c := NewClient(fb.URL(), time.Second)

	resp, err := c.ProcessBatch(context.Background(), ProcessRequest{
		Profile:    "ultra_rapido",
		BatchSize:  3,
		SorteoCode: "S1",
		APIKey:     "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "batch-1", resp.BatchID)

	calls := fb.Processes()
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer secret", calls[0].Authorization)
	assert.Equal(t, "ultra_rapido", calls[0].Body["profile"])
	assert.Equal(t, "S1", calls[0].Body["codigo_sorteo"])
	assert.NotContains(t, calls[0].Body, "api_key")
	assert.NotContains(t, calls[0].Body, "id_whatsapp")
}

func TestClient_ProcessBatchErrors(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     any
		wantCode string
		wantMsg  string
	}{
		{
			name:     "body level error on 200",
			code:     http.StatusOK,
			body:     map[string]string{"status": "error", "message": "engine failed"},
			wantCode: CodeBatchProcessing,
			wantMsg:  "Processing error: engine failed",
		},
		{
			name:     "413 without code",
			code:     http.StatusRequestEntityTooLarge,
			body:     map[string]string{"status": "error"},
			wantCode: CodeFileTooLarge,
			wantMsg:  "File is too large (maximum 16MB)",
		},
		{
			name:     "explicit error code wins",
			code:     http.StatusInternalServerError,
			body:     map[string]string{"error_code": CodeBadRequest, "mensaje": "datos"},
			wantCode: CodeBadRequest,
			wantMsg:  "Bad request. Check the submitted data",
		},
		{
			name:     "404",
			code:     http.StatusNotFound,
			body:     map[string]string{},
			wantCode: CodeNotFound,
			wantMsg:  "Resource not found",
		},
		{
			name:     "generic 500 keeps backend message",
			code:     http.StatusInternalServerError,
			body:     map[string]string{"message": "disk full"},
			wantCode: CodeUnknown,
			wantMsg:  "disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := testutil.NewFakeBackend()
			defer fb.Close()
			fb.SetProcessReply(tt.code, tt.body)
			c := NewClient(fb.URL(), time.Second)

			_, err := c.ProcessBatch(context.Background(), ProcessRequest{Profile: "ultra_rapido"})
			var be *BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.wantCode, be.Code)
			assert.Equal(t, tt.code, be.Status)
			assert.Equal(t, tt.wantMsg, UserMessage(err))
		})
	}
}

func TestClient_GetResult(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	c := NewClient(fb.URL(), time.Second)

	fb.SetResult("done", map[string]any{
		"status":     "completed",
		"request_id": "r1",
		"result":     map[string]any{"full_raw_ocr_text": "TOTAL 10.00", "confidence": 0.93},
	})
	fb.SetResult("bad", map[string]any{"status": "error", "request_id": "r2", "message": "blurry"})
	fb.SetResult("weird", map[string]any{"status": "exploded"})

	res, err := c.GetResult(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, models.ResultCompleted, res.State)
	require.NotNil(t, res.Data)
	assert.Equal(t, "TOTAL 10.00", res.Data.FullText)
	assert.InDelta(t, 0.93, res.Data.Confidence, 0.0001)
	assert.NotEmpty(t, res.Data.Raw)

	res, err = c.GetResult(context.Background(), "bad")
	require.NoError(t, err, "status error is a valid result, not a failed call")
	assert.Equal(t, models.ResultErrored, res.State)
	assert.Equal(t, "blurry", res.Message)

	res, err = c.GetResult(context.Background(), "unknown-yet")
	require.NoError(t, err)
	assert.Equal(t, models.ResultProcessing, res.State)

	_, err = c.GetResult(context.Background(), "weird")
	assert.True(t, IsNetwork(err))
}

func TestClient_GetResources(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	fb.SetResources(http.StatusOK, map[string]any{
		"cpu_percent":    85.5,
		"memory_percent": 20.0,
		"queue_status":   map[string]int{"inbox": 3, "processing": 1},
	})
	c := NewClient(fb.URL(), time.Second)

	snap, err := c.GetResources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 85.5, snap.CPUPercent)
	assert.Equal(t, 20.0, snap.MemoryPercent)
	assert.Equal(t, 4, snap.QueueTotal())
	assert.False(t, snap.SampledAt.IsZero())
}

func TestClient_PassThroughEndpoints(t *testing.T) {
	fb := testutil.NewFakeBackend()
	defer fb.Close()
	c := NewClient(fb.URL(), time.Second)
	ctx := context.Background()

	doc, err := c.ExtractResults(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"total":0`)

	_, err = c.CleanQueue(ctx)
	require.NoError(t, err)
	_, err = c.Clean(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fb.CleanCalls())

	qs, err := c.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, qs.QueueSize)
	assert.Equal(t, "ok", qs.Status)
}

func TestClient_NetworkErrors(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := NewClient(url, time.Second)
		_, err := c.GetResources(context.Background())
		require.Error(t, err)
		assert.True(t, IsNetwork(err))
		assert.Equal(t, "Connection error. Check your network connection", UserMessage(err))
	})

	t.Run("timeout", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(block)

		c := NewClient(srv.URL, 50*time.Millisecond)
		_, err := c.QueueStatus(context.Background())
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, "queue_status", netErr.Op)
	})

	t.Run("undecodable body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not json</html>"))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		_, err := c.GetResources(context.Background())
		assert.True(t, IsNetwork(err))
	})
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
	assert.Equal(t, "Unknown server error", UserMessage(&BackendError{Code: CodeUnknown}))
}
