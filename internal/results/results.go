// Package results selects, orders and groups the OCR results of completed
// files for browsing.
package results

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ocr-batch/dashboard/internal/models"
)

// ErrNoResult is returned for a file whose OCR text has not arrived yet.
var ErrNoResult = errors.New("file has no OCR result yet")

// UnknownBatch groups results whose file carries no batch id.
const UnknownBatch = "unknown"

// PreviewLength is the number of characters of OCR text in a listing.
const PreviewLength = 200

// Band is a confidence range.
type Band string

const (
	BandAll    Band = "all"
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// ParseBand validates a band name. Empty means all.
func ParseBand(s string) (Band, error) {
	switch b := Band(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BandAll, nil
	case BandAll, BandHigh, BandMedium, BandLow:
		return b, nil
	}
	return "", fmt.Errorf("unknown confidence band %q", s)
}

// BandOf classifies a confidence in [0, 1]: high above 0.9, medium from
// 0.7 to 0.9 inclusive, low below 0.7.
func BandOf(confidence float64) Band {
	switch {
	case confidence > 0.9:
		return BandHigh
	case confidence >= 0.7:
		return BandMedium
	}
	return BandLow
}

// Contains reports whether confidence falls in b.
func (b Band) Contains(confidence float64) bool {
	return b == BandAll || b == "" || BandOf(confidence) == b
}

// SortField orders a listing.
type SortField string

const (
	SortDate       SortField = "date"
	SortName       SortField = "name"
	SortConfidence SortField = "confidence"
	SortSize       SortField = "size"
)

// ParseSortField validates a sort field. Empty means date.
func ParseSortField(s string) (SortField, error) {
	switch f := SortField(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return SortDate, nil
	case SortDate, SortName, SortConfidence, SortSize:
		return f, nil
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// Query selects and orders results. The zero value lists everything, newest
// first.
type Query struct {
	Band      Band
	Search    string
	BatchID   string
	Sort      SortField
	Ascending bool
}

// Entry is one result line.
type Entry struct {
	ID            string    `json:"id"`
	ArrivalNumber int       `json:"arrivalNumber"`
	Name          string    `json:"name"`
	FinalFilename string    `json:"finalFilename,omitempty"`
	BatchID       string    `json:"batchId"`
	RequestID     string    `json:"requestId,omitempty"`
	Confidence    float64   `json:"confidence"`
	Band          Band      `json:"band"`
	Preview       string    `json:"preview"`
	Size          int64     `json:"size"`
	CompletedAt   time.Time `json:"completedAt"`
}

// Batch groups the entries of one batch.
type Batch struct {
	ID            string    `json:"id"`
	Files         int       `json:"files"`
	TotalSize     int64     `json:"totalSize"`
	AvgConfidence float64   `json:"avgConfidence"`
	Band          Band      `json:"band"`
	CompletedAt   time.Time `json:"completedAt"`
	FileIDs       []string  `json:"fileIds"`
}

// Listing is the outcome of Select.
type Listing struct {
	Entries       []Entry `json:"entries"`
	Batches       []Batch `json:"batches"`
	Total         int     `json:"total"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// Detail is the full result of one file.
type Detail struct {
	Entry
	Text       string            `json:"text"`
	Parameters models.Parameters `json:"parameters"`
	Raw        json.RawMessage   `json:"raw,omitempty"`
}

// Select keeps the completed files that carry a result and match q, sorts
// them and groups them by batch. Batches are ordered newest first.
func Select(files []models.TrackedFile, q Query) Listing {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if f.Status != models.FileStatusCompleted || f.Result == nil {
			continue
		}
		e := entryOf(f)
		if !q.Band.Contains(e.Confidence) {
			continue
		}
		if q.BatchID != "" && e.BatchID != q.BatchID {
			continue
		}
		if search != "" && !matches(f, search) {
			continue
		}
		entries = append(entries, e)
	}

	sortEntries(entries, q.Sort, q.Ascending)

	l := Listing{Entries: entries, Batches: group(entries), Total: len(entries)}
	l.AvgConfidence = avgConfidence(entries)
	return l
}

// DetailOf returns the full result of f.
func DetailOf(f models.TrackedFile) (Detail, error) {
	if f.Result == nil {
		return Detail{}, fmt.Errorf("%w: %s", ErrNoResult, f.ID)
	}
	p := f.Parameters
	p.APIKey = ""
	return Detail{
		Entry:      entryOf(f),
		Text:       f.Result.FullText,
		Parameters: p,
		Raw:        f.Result.Raw,
	}, nil
}

func entryOf(f models.TrackedFile) Entry {
	batch := f.BatchID
	if batch == "" {
		batch = UnknownBatch
	}
	requestID := f.RequestID
	if requestID == "" {
		requestID = f.Result.RequestID
	}
	return Entry{
		ID:            f.ID,
		ArrivalNumber: f.Parameters.ArrivalNumber,
		Name:          f.DisplayName,
		FinalFilename: f.FinalFilename,
		BatchID:       batch,
		RequestID:     requestID,
		Confidence:    f.Result.Confidence,
		Band:          BandOf(f.Result.Confidence),
		Preview:       preview(f.Result.FullText),
		Size:          f.SizeBytes,
		CompletedAt:   f.UpdatedAt,
	}
}

func matches(f models.TrackedFile, search string) bool {
	return strings.Contains(strings.ToLower(f.DisplayName), search) ||
		strings.Contains(strings.ToLower(f.FinalFilename), search) ||
		strings.Contains(strings.ToLower(f.Result.FullText), search)
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	r := []rune(text)
	return string(r[:PreviewLength]) + "..."
}

// sortEntries orders by field, breaking ties by arrival number so the order
// is stable across calls.
func sortEntries(entries []Entry, field SortField, asc bool) {
	byField := func(a, b Entry) int {
		switch field {
		case SortName:
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case SortConfidence:
			return cmp.Compare(a.Confidence, b.Confidence)
		case SortSize:
			return cmp.Compare(a.Size, b.Size)
		}
		return a.CompletedAt.Compare(b.CompletedAt)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		c := byField(entries[i], entries[j])
		if c == 0 {
			return entries[i].ArrivalNumber < entries[j].ArrivalNumber
		}
		if asc {
			return c < 0
		}
		return c > 0
	})
}

func group(entries []Entry) []Batch {
	index := make(map[string]int)
	var batches []Batch
	confSum := make(map[string]float64)
	confN := make(map[string]int)
	for _, e := range entries {
		i, ok := index[e.BatchID]
		if !ok {
			i = len(batches)
			index[e.BatchID] = i
			batches = append(batches, Batch{ID: e.BatchID})
		}
		b := &batches[i]
		b.Files++
		b.TotalSize += e.Size
		b.FileIDs = append(b.FileIDs, e.ID)
		if e.CompletedAt.After(b.CompletedAt) {
			b.CompletedAt = e.CompletedAt
		}
		// a zero confidence means the backend reported none
		if e.Confidence > 0 {
			confSum[e.BatchID] += e.Confidence
			confN[e.BatchID]++
		}
	}
	for i := range batches {
		b := &batches[i]
		if n := confN[b.ID]; n > 0 {
			b.AvgConfidence = confSum[b.ID] / float64(n)
		}
		b.Band = BandOf(b.AvgConfidence)
	}
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].CompletedAt.After(batches[j].CompletedAt)
	})
	return batches
}

func avgConfidence(entries []Entry) float64 {
	var sum float64
	n := 0
	for _, e := range entries {
		if e.Confidence > 0 {
			sum += e.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
