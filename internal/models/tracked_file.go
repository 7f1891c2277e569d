package models

import (
	"bytes"
	"io"
	"time"
)

// FileStatus represents where a tracked file is in its upload/process lifecycle.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusUploading  FileStatus = "uploading"
	FileStatusUploaded   FileStatus = "uploaded"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
)

// AllFileStatuses lists every status in lifecycle order.
var AllFileStatuses = []FileStatus{
	FileStatusPending,
	FileStatusUploading,
	FileStatusUploaded,
	FileStatusProcessing,
	FileStatusCompleted,
	FileStatusError,
}

// IsTerminal reports whether no further automatic transition happens from s.
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusCompleted || s == FileStatusError
}

// CanRemove reports whether a user may remove a file in status s.
func (s FileStatus) CanRemove() bool {
	return s == FileStatusPending || s == FileStatusError || s == FileStatusCompleted
}

var transitions = map[FileStatus][]FileStatus{
	FileStatusPending:    {FileStatusUploading},
	FileStatusUploading:  {FileStatusUploaded, FileStatusError},
	FileStatusUploaded:   {FileStatusProcessing, FileStatusCompleted, FileStatusError},
	FileStatusProcessing: {FileStatusCompleted, FileStatusError},
	FileStatusError:      {FileStatusPending},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Uploaded files may complete directly when the backend processes the
// enqueued upload on its own and the result arrives through polling.
func (s FileStatus) CanTransition(next FileStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Source is the opaque handle to a tracked file's binary payload.
type Source interface {
	Open() (io.ReadCloser, error)
}

// Releaser is implemented by sources that hold resources (spooled blobs)
// which must be freed once the backend owns the durable copy.
type Releaser interface {
	Release() error
}

// BytesSource is an in-memory Source.
type BytesSource []byte

// Open returns a reader over the bytes.
func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Parameters holds the user-editable tracking fields of a file.
// ArrivalNumber is owned by the registry and renumbered on membership changes.
type Parameters struct {
	ArrivalNumber int    `json:"arrivalNumber" yaml:"-" msgpack:"arrivalNumber"`
	SorteoCode    string `json:"numerosorteo,omitempty" yaml:"numerosorteo,omitempty" msgpack:"numerosorteo,omitempty"`
	SorteoDate    string `json:"fechasorteo,omitempty" yaml:"fechasorteo,omitempty" msgpack:"fechasorteo,omitempty"`
	WhatsappID    string `json:"idWhatsapp,omitempty" yaml:"idWhatsapp,omitempty" msgpack:"idWhatsapp,omitempty"`
	UserName      string `json:"nombre,omitempty" yaml:"nombre,omitempty" msgpack:"nombre,omitempty"`
	ArrivalTime   string `json:"horamin,omitempty" yaml:"horamin,omitempty" msgpack:"horamin,omitempty"`
	Caption       string `json:"caption,omitempty" yaml:"caption,omitempty" msgpack:"caption,omitempty"`
	Profile       string `json:"profile,omitempty" yaml:"profile,omitempty" msgpack:"profile,omitempty"`
	APIKey        string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" msgpack:"-"`
	OtherValue    string `json:"otro_valor,omitempty" yaml:"otro_valor,omitempty" msgpack:"otro_valor,omitempty"`
}

// ParameterPatch is a partial update of Parameters. Nil fields are left untouched.
type ParameterPatch struct {
	SorteoCode  *string `json:"numerosorteo,omitempty"`
	SorteoDate  *string `json:"fechasorteo,omitempty"`
	WhatsappID  *string `json:"idWhatsapp,omitempty"`
	UserName    *string `json:"nombre,omitempty"`
	ArrivalTime *string `json:"horamin,omitempty"`
	Caption     *string `json:"caption,omitempty"`
	Profile     *string `json:"profile,omitempty"`
	APIKey      *string `json:"apiKey,omitempty"`
	OtherValue  *string `json:"otro_valor,omitempty"`
}

// Apply copies every non-nil field of the patch onto p.
func (patch ParameterPatch) Apply(p *Parameters) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.SorteoCode, patch.SorteoCode)
	set(&p.SorteoDate, patch.SorteoDate)
	set(&p.WhatsappID, patch.WhatsappID)
	set(&p.UserName, patch.UserName)
	set(&p.ArrivalTime, patch.ArrivalTime)
	set(&p.Caption, patch.Caption)
	set(&p.Profile, patch.Profile)
	set(&p.APIKey, patch.APIKey)
	set(&p.OtherValue, patch.OtherValue)
}

// PatchFrom builds a patch that overwrites every field with the values in p,
// skipping empty strings.
func PatchFrom(p Parameters) ParameterPatch {
	ptr := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	return ParameterPatch{
		SorteoCode:  ptr(p.SorteoCode),
		SorteoDate:  ptr(p.SorteoDate),
		WhatsappID:  ptr(p.WhatsappID),
		UserName:    ptr(p.UserName),
		ArrivalTime: ptr(p.ArrivalTime),
		Caption:     ptr(p.Caption),
		Profile:     ptr(p.Profile),
		APIKey:      ptr(p.APIKey),
		OtherValue:  ptr(p.OtherValue),
	}
}

// TrackedFile is a file selected by the user and followed through
// upload and OCR processing.
type TrackedFile struct {
	ID            string     `json:"id" msgpack:"id"`
	Source        Source     `json:"-" msgpack:"-"`
	DisplayName   string     `json:"name" msgpack:"name"`
	SizeBytes     int64      `json:"size" msgpack:"size"`
	MimeType      string     `json:"type" msgpack:"type"`
	Status        FileStatus `json:"status" msgpack:"status"`
	Progress      float64    `json:"progress" msgpack:"progress"` // 0-100
	Parameters    Parameters `json:"parameters" msgpack:"parameters"`
	FinalFilename string     `json:"finalFilename,omitempty" msgpack:"finalFilename,omitempty"`
	BatchID       string     `json:"batchId,omitempty" msgpack:"batchId,omitempty"`
	RequestID     string     `json:"requestId,omitempty" msgpack:"requestId,omitempty"`
	LastError     string     `json:"lastError,omitempty" msgpack:"lastError,omitempty"`
	Result        *OCRResult `json:"result,omitempty" msgpack:"result,omitempty"`
	AddedAt       time.Time  `json:"addedAt" msgpack:"addedAt"`
	UpdatedAt     time.Time  `json:"updatedAt" msgpack:"updatedAt"`
}

// RegistryStats counts tracked files per status.
type RegistryStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Uploading  int `json:"uploading"`
	Uploaded   int `json:"uploaded"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
}

// Count adds one file with the given status.
func (s *RegistryStats) Count(status FileStatus) {
	s.Total++
	switch status {
	case FileStatusPending:
		s.Pending++
	case FileStatusUploading:
		s.Uploading++
	case FileStatusUploaded:
		s.Uploaded++
	case FileStatusProcessing:
		s.Processing++
	case FileStatusCompleted:
		s.Completed++
	case FileStatusError:
		s.Error++
	}
}
