// Package view renders dashboard state into a display model. Rendering is a
// pure function of its input.
package view

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ocr-batch/dashboard/internal/models"
)

// QueueScale is the queue length drawn as a full bar.
const QueueScale = 50

// Row actions.
const (
	ActionRemove  = "remove"
	ActionRetry   = "retry"
	ActionDetails = "details"
)

type statusStyle struct {
	label string
	tone  string
}

var statusStyles = map[models.FileStatus]statusStyle{
	models.FileStatusPending:    {"Pending", "secondary"},
	models.FileStatusUploading:  {"Uploading...", "primary"},
	models.FileStatusUploaded:   {"Uploaded", "info"},
	models.FileStatusProcessing: {"Processing...", "warning"},
	models.FileStatusCompleted:  {"Completed", "success"},
	models.FileStatusError:      {"Error", "danger"},
}

// State is everything the view is rendered from.
type State struct {
	Files            []models.TrackedFile
	Preferences      models.Preferences
	Resources        *models.ResourceSnapshot
	ResourcesFailing bool
	Submitting       bool
	Metrics          models.MetricsSummary
}

// Row is one file line.
type Row struct {
	ID            string            `json:"id"`
	ArrivalNumber int               `json:"arrivalNumber"`
	Name          string            `json:"name"`
	Size          string            `json:"size"`
	Status        models.FileStatus `json:"status"`
	Label         string            `json:"label"`
	Tone          string            `json:"tone"`
	Progress      float64           `json:"progress"`
	FinalFilename string            `json:"finalFilename,omitempty"`
	Renamed       bool              `json:"renamed"`
	LastError     string            `json:"lastError,omitempty"`
	Actions       []string          `json:"actions"`
	Parameters    models.Parameters `json:"parameters"`
}

// Bar is a resource gauge.
type Bar struct {
	Text    string  `json:"text"`
	Percent float64 `json:"percent"`
}

// Resources holds the resource gauges.
type Resources struct {
	CPU       Bar       `json:"cpu"`
	Memory    Bar       `json:"memory"`
	Queue     Bar       `json:"queue"`
	Failing   bool      `json:"failing"`
	SampledAt time.Time `json:"sampledAt"`
}

// Header summarizes the queue and drives the action buttons.
type Header struct {
	Stats          models.RegistryStats `json:"stats"`
	UploadEnabled  bool                 `json:"uploadEnabled"`
	ProcessEnabled bool                 `json:"processEnabled"`
	ProcessLabel   string               `json:"processLabel"`
	ClearEnabled   bool                 `json:"clearEnabled"`
}

// View is the rendered dashboard.
type View struct {
	Header      Header                `json:"header"`
	Rows        []Row                 `json:"rows"`
	Preferences models.Preferences    `json:"preferences"`
	Resources   *Resources            `json:"resources,omitempty"`
	Metrics     models.MetricsSummary `json:"metrics"`
}

// Render builds the view for s.
func Render(s State) View {
	v := View{
		Rows:        make([]Row, 0, len(s.Files)),
		Preferences: s.Preferences,
		Metrics:     s.Metrics,
	}

	for _, f := range s.Files {
		v.Header.Stats.Count(f.Status)
		v.Rows = append(v.Rows, renderRow(f))
	}

	st := v.Header.Stats
	v.Header.UploadEnabled = st.Pending > 0 && !s.Submitting
	v.Header.ProcessEnabled = st.Uploaded > 0 && !s.Submitting
	v.Header.ClearEnabled = st.Pending+st.Error+st.Completed > 0
	switch {
	case s.Submitting:
		v.Header.ProcessLabel = "Processing..."
	case st.Uploaded > 0:
		v.Header.ProcessLabel = fmt.Sprintf("Process batch (%d)", st.Uploaded)
	default:
		v.Header.ProcessLabel = "Process batch"
	}

	if s.Resources != nil {
		v.Resources = renderResources(*s.Resources, s.ResourcesFailing)
	}
	return v
}

func renderRow(f models.TrackedFile) Row {
	style, ok := statusStyles[f.Status]
	if !ok {
		style = statusStyles[models.FileStatusPending]
	}
	r := Row{
		ID:            f.ID,
		ArrivalNumber: f.Parameters.ArrivalNumber,
		Name:          f.DisplayName,
		Size:          HumanSize(f.SizeBytes),
		Status:        f.Status,
		Label:         style.label,
		Tone:          style.tone,
		Progress:      clampPercent(f.Progress),
		FinalFilename: f.FinalFilename,
		Renamed:       f.FinalFilename != "" && f.FinalFilename != f.DisplayName,
		LastError:     f.LastError,
		Parameters:    f.Parameters,
		Actions:       []string{},
	}
	r.Parameters.APIKey = ""

	switch f.Status {
	case models.FileStatusPending:
		r.Actions = append(r.Actions, ActionRemove)
	case models.FileStatusError:
		r.Actions = append(r.Actions, ActionRetry, ActionRemove)
	case models.FileStatusCompleted:
		r.Actions = append(r.Actions, ActionDetails, ActionRemove)
	}
	return r
}

func renderResources(snap models.ResourceSnapshot, failing bool) *Resources {
	queue := snap.QueueTotal()
	return &Resources{
		CPU:       Bar{Text: fmt.Sprintf("%.1f%%", snap.CPUPercent), Percent: clampPercent(snap.CPUPercent)},
		Memory:    Bar{Text: fmt.Sprintf("%.1f%%", snap.MemoryPercent), Percent: clampPercent(snap.MemoryPercent)},
		Queue:     Bar{Text: strconv.Itoa(queue), Percent: clampPercent(float64(queue) / QueueScale * 100)},
		Failing:   failing,
		SampledAt: snap.SampledAt,
	}
}

func clampPercent(p float64) float64 {
	if p < 0 || math.IsNaN(p) {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// HumanSize formats a byte count with up to two decimals, e.g. "1.5 MB".
func HumanSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	v := float64(bytes) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}
