// Package submit drives tracked files through upload and batch processing.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ocr-batch/dashboard/internal/backend"
	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/registry"
)

// DefaultProfile is the OCR profile used when a caller passes none.
const DefaultProfile = "ultra_rapido"

// ErrBusy is returned when a submission is attempted while another one is in flight.
var ErrBusy = errors.New("a batch submission is already in progress")

// ErrNothingToSubmit is returned when none of the requested files is eligible.
var ErrNothingToSubmit = errors.New("no eligible files to submit")

// ErrInvalidAdditionalData is returned when the upload's additional data is not valid JSON.
var ErrInvalidAdditionalData = errors.New("additional data must be valid JSON")

// msgNotAcknowledged is set on files the backend did not list in enqueued_ids.
const msgNotAcknowledged = "backend did not acknowledge file"

// Backend is the subset of the OCR client the submitter needs.
type Backend interface {
	UploadBatch(ctx context.Context, files []backend.UploadFile, opts backend.UploadOptions) (backend.UploadResponse, error)
	ProcessBatch(ctx context.Context, req backend.ProcessRequest) (backend.ProcessResponse, error)
}

// EssentialParameters are the batch-wide tracking fields of a submission.
type EssentialParameters struct {
	SorteoCode string `json:"codigo_sorteo,omitempty" yaml:"codigo_sorteo,omitempty"`
	WhatsappID string `json:"id_whatsapp,omitempty" yaml:"id_whatsapp,omitempty"`
	UserName   string `json:"nombre_usuario,omitempty" yaml:"nombre_usuario,omitempty"`
	Caption    string `json:"caption,omitempty" yaml:"caption,omitempty"`
	ExactTime  string `json:"hora_exacta,omitempty" yaml:"hora_exacta,omitempty"`
	APIKey     string `json:"api_key,omitempty" yaml:"-"`
}

// UploadOptions are the batch-wide fields of an upload.
type UploadOptions struct {
	CaptionGlobal  string          `json:"captionGlobal,omitempty"`
	AdditionalData json.RawMessage `json:"additionalData,omitempty"`
	BatchSize      int             `json:"batchSize,omitempty"`
}

// UploadResult reports the outcome of UploadFiles.
type UploadResult struct {
	Uploaded []string `json:"uploaded"`
	Failed   []string `json:"failed,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
}

// BatchResult reports the outcome of a successful SubmitBatch.
type BatchResult struct {
	RequestID      string            `json:"requestId"`
	BatchID        string            `json:"batchId"`
	Included       []string          `json:"included"`
	Skipped        []string          `json:"skipped,omitempty"`
	ProcessedCount int               `json:"processedCount"`
	Info           backend.BatchInfo `json:"batchInfo"`
	StartedAt      time.Time         `json:"startedAt"`
	Elapsed        time.Duration     `json:"elapsed"`
}

// Options tunes a Submitter.
type Options struct {
	// BatchSize returns the batch_size sent to the backend. Nil sends the
	// number of included files.
	BatchSize func() int
	// OnBatchCompleted is called once after every successful SubmitBatch.
	OnBatchCompleted func(BatchResult)
}

// Submitter uploads files and submits batches. Only one upload or
// submission runs at a time; a second caller gets ErrBusy immediately.
type Submitter struct {
	reg     *registry.Registry
	backend Backend
	opts    Options

	busy atomic.Bool

	hookMu sync.RWMutex
}

// New creates a submitter over reg.
func New(reg *registry.Registry, b Backend, opts Options) *Submitter {
	return &Submitter{reg: reg, backend: b, opts: opts}
}

// OnBatchCompleted replaces the completion hook.
func (s *Submitter) OnBatchCompleted(fn func(BatchResult)) {
	s.hookMu.Lock()
	s.opts.OnBatchCompleted = fn
	s.hookMu.Unlock()
}

// Busy reports whether a submission is in flight.
func (s *Submitter) Busy() bool {
	return s.busy.Load()
}

func (s *Submitter) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (s *Submitter) release() {
	s.busy.Store(false)
}

type uploadItem struct {
	id   string
	file backend.UploadFile
}

// UploadFiles moves pending files to uploading in one registry update, sends
// them in a single multipart call and pairs the returned enqueued ids with the
// files in submission order. Files the backend does not acknowledge go to
// error; a failed call puts every included file in error.
func (s *Submitter) UploadFiles(ctx context.Context, ids []string, opts UploadOptions) (UploadResult, error) {
	if len(opts.AdditionalData) > 0 && !json.Valid(opts.AdditionalData) {
		return UploadResult{}, ErrInvalidAdditionalData
	}
	if err := s.acquire(); err != nil {
		return UploadResult{}, err
	}
	defer s.release()

	var items []uploadItem
	included := s.reg.Update(ids, func(f *models.TrackedFile) bool {
		if f.Status != models.FileStatusPending || f.Source == nil {
			return false
		}
		f.Status = models.FileStatusUploading
		f.Progress = 0
		items = append(items, uploadItem{
			id:   f.ID,
			file: backend.UploadFile{Name: f.DisplayName, MimeType: f.MimeType, Source: f.Source},
		})
		return true
	})
	result := UploadResult{Skipped: difference(ids, included)}
	if len(included) == 0 {
		return result, ErrNothingToSubmit
	}

	tag := uuid.New().String()[:8]
	fmt.Printf("[Upload %s] uploading %d files\n", tag, len(items))

	files := make([]backend.UploadFile, len(items))
	for i, it := range items {
		files[i] = it.file
	}
	resp, err := s.backend.UploadBatch(ctx, files, backend.UploadOptions{
		CaptionGlobal:  opts.CaptionGlobal,
		AdditionalData: opts.AdditionalData,
		BatchSize:      opts.BatchSize,
	})
	if err != nil {
		msg := backend.UserMessage(err)
		s.reg.Update(included, func(f *models.TrackedFile) bool {
			if f.Status != models.FileStatusUploading {
				return false
			}
			f.Status = models.FileStatusError
			f.Progress = 0
			f.LastError = msg
			return true
		})
		fmt.Printf("[Upload %s] failed: %v\n", tag, err)
		result.Failed = included
		return result, fmt.Errorf("uploading batch: %w", err)
	}

	finalNames := make(map[string]string, len(items))
	for i, it := range items {
		if i < len(resp.EnqueuedIDs) && resp.EnqueuedIDs[i] != "" {
			finalNames[it.id] = resp.EnqueuedIDs[i]
		}
	}
	s.reg.Update(included, func(f *models.TrackedFile) bool {
		if f.Status != models.FileStatusUploading {
			return false
		}
		if name, ok := finalNames[f.ID]; ok {
			f.Status = models.FileStatusUploaded
			f.Progress = 100
			f.FinalFilename = name
			result.Uploaded = append(result.Uploaded, f.ID)
		} else {
			f.Status = models.FileStatusError
			f.Progress = 0
			f.LastError = msgNotAcknowledged
			result.Failed = append(result.Failed, f.ID)
		}
		return true
	})

	fmt.Printf("[Upload %s] %d uploaded, %d not acknowledged\n", tag, len(result.Uploaded), len(result.Failed))
	return result, nil
}

// SubmitBatch asks the backend to process the given files as one batch.
// Files not in uploaded state are skipped. Included files move to processing
// in one registry update before the network call, then all complete or all
// fail together.
func (s *Submitter) SubmitBatch(ctx context.Context, ids []string, params EssentialParameters, profile string) (BatchResult, error) {
	if err := s.acquire(); err != nil {
		return BatchResult{}, err
	}
	defer s.release()

	if profile == "" {
		profile = DefaultProfile
	}

	individual := make(map[string]models.Parameters)
	included := s.reg.Update(ids, func(f *models.TrackedFile) bool {
		if f.Status != models.FileStatusUploaded {
			return false
		}
		f.Status = models.FileStatusProcessing
		f.Progress = 0
		key := f.FinalFilename
		if key == "" {
			key = f.DisplayName
		}
		p := f.Parameters
		p.APIKey = ""
		individual[key] = p
		return true
	})
	result := BatchResult{
		Included:  included,
		Skipped:   difference(ids, included),
		StartedAt: time.Now(),
	}
	if len(included) == 0 {
		return result, ErrNothingToSubmit
	}

	batchSize := len(included)
	if s.opts.BatchSize != nil {
		if n := s.opts.BatchSize(); n > 0 {
			batchSize = n
		}
	}

	req := backend.ProcessRequest{
		Profile:              profile,
		BatchSize:            batchSize,
		SorteoCode:           params.SorteoCode,
		WhatsappID:           params.WhatsappID,
		UserName:             params.UserName,
		Caption:              params.Caption,
		ExactTime:            params.ExactTime,
		IndividualParameters: individual,
		APIKey:               params.APIKey,
	}

	tag := uuid.New().String()[:8]
	fmt.Printf("[Submit %s] processing %d files (profile %s, batch size %d)\n", tag, len(included), profile, batchSize)

	resp, err := s.backend.ProcessBatch(ctx, req)
	result.Elapsed = time.Since(result.StartedAt)
	if err != nil {
		msg := backend.UserMessage(err)
		s.reg.Update(included, func(f *models.TrackedFile) bool {
			if f.Status != models.FileStatusProcessing {
				return false
			}
			f.Status = models.FileStatusError
			f.Progress = 0
			f.LastError = msg
			return true
		})
		fmt.Printf("[Submit %s] failed after %s: %v\n", tag, result.Elapsed.Round(time.Millisecond), err)
		return result, fmt.Errorf("processing batch: %w", err)
	}

	result.RequestID = resp.RequestID
	result.BatchID = resp.BatchID
	result.Info = resp.BatchInfo
	result.ProcessedCount = resp.BatchInfo.ProcessedCount

	s.reg.Update(included, func(f *models.TrackedFile) bool {
		if f.Status != models.FileStatusProcessing {
			return false
		}
		f.Status = models.FileStatusCompleted
		f.Progress = 100
		f.RequestID = resp.RequestID
		f.BatchID = resp.BatchID
		return true
	})
	s.reg.ReleaseSources(included)
	fmt.Printf("[Submit %s] completed request %s (%d processed) in %s\n",
		tag, resp.RequestID, result.ProcessedCount, result.Elapsed.Round(time.Millisecond))

	s.hookMu.RLock()
	hook := s.opts.OnBatchCompleted
	s.hookMu.RUnlock()
	if hook != nil {
		hook(result)
	}
	return result, nil
}

// Retry moves a failed file back to pending so it can be uploaded again.
func (s *Submitter) Retry(id string) (models.TrackedFile, error) {
	return s.reg.Transition(id, models.FileStatusPending)
}

// difference returns the ids in all that are not in subset, keeping order.
func difference(all, subset []string) []string {
	in := make(map[string]struct{}, len(subset))
	for _, id := range subset {
		in[id] = struct{}{}
	}
	var out []string
	for _, id := range all {
		if _, ok := in[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
