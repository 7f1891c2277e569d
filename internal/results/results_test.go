package results

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func completed(n int, name, batch string, conf float64, text string) models.TrackedFile {
	return models.TrackedFile{
		ID:          name + "-id",
		DisplayName: name,
		SizeBytes:   int64(n * 100),
		Status:      models.FileStatusCompleted,
		Parameters:  models.Parameters{ArrivalNumber: n},
		BatchID:     batch,
		Result:      &models.OCRResult{FullText: text, Confidence: conf},
		UpdatedAt:   base.Add(time.Duration(n) * time.Minute),
	}
}

func ids(l Listing) []string {
	out := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		out = append(out, e.Name)
	}
	return out
}

func TestBandOf(t *testing.T) {
	tests := []struct {
		conf float64
		want Band
	}{
		{0.95, BandHigh},
		{0.91, BandHigh},
		{0.9, BandMedium},
		{0.8, BandMedium},
		{0.7, BandMedium},
		{0.69, BandLow},
		{0, BandLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BandOf(tt.conf), "confidence %v", tt.conf)
	}
}

func TestParseBandAndSortField(t *testing.T) {
	b, err := ParseBand("")
	require.NoError(t, err)
	assert.Equal(t, BandAll, b)

	b, err = ParseBand(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, BandHigh, b)

	_, err = ParseBand("excellent")
	assert.Error(t, err)

	f, err := ParseSortField("")
	require.NoError(t, err)
	assert.Equal(t, SortDate, f)

	f, err = ParseSortField("Confidence")
	require.NoError(t, err)
	assert.Equal(t, SortConfidence, f)

	_, err = ParseSortField("color")
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	pending := models.TrackedFile{ID: "p", DisplayName: "p.png", Status: models.FileStatusPending}
	noResult := models.TrackedFile{ID: "n", DisplayName: "n.png", Status: models.FileStatusCompleted}
	files := []models.TrackedFile{
		completed(1, "alpha.png", "b1", 0.95, "Ticket 4711"),
		completed(2, "bravo.png", "b1", 0.8, "receipt total"),
		completed(3, "charlie.png", "b2", 0.5, "blurry ticket"),
		completed(4, "delta.png", "", 0.7, "ok"),
		pending,
		noResult,
	}

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{name: "default is newest first", query: Query{}, want: []string{"delta.png", "charlie.png", "bravo.png", "alpha.png"}},
		{name: "date ascending", query: Query{Ascending: true}, want: []string{"alpha.png", "bravo.png", "charlie.png", "delta.png"}},
		{name: "high band", query: Query{Band: BandHigh}, want: []string{"alpha.png"}},
		{name: "medium band includes both bounds", query: Query{Band: BandMedium, Sort: SortName, Ascending: true}, want: []string{"bravo.png", "delta.png"}},
		{name: "low band", query: Query{Band: BandLow}, want: []string{"charlie.png"}},
		{name: "search matches text case-insensitively", query: Query{Search: "TICKET", Sort: SortName, Ascending: true}, want: []string{"alpha.png", "charlie.png"}},
		{name: "search matches name", query: Query{Search: "brav"}, want: []string{"bravo.png"}},
		{name: "batch filter", query: Query{BatchID: "b1", Sort: SortName, Ascending: true}, want: []string{"alpha.png", "bravo.png"}},
		{name: "missing batch is unknown", query: Query{BatchID: UnknownBatch}, want: []string{"delta.png"}},
		{name: "confidence descending", query: Query{Sort: SortConfidence}, want: []string{"alpha.png", "bravo.png", "delta.png", "charlie.png"}},
		{name: "name descending", query: Query{Sort: SortName}, want: []string{"delta.png", "charlie.png", "bravo.png", "alpha.png"}},
		{name: "size ascending", query: Query{Sort: SortSize, Ascending: true}, want: []string{"alpha.png", "bravo.png", "charlie.png", "delta.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Select(files, tt.query)
			assert.Equal(t, tt.want, ids(l))
			assert.Equal(t, len(tt.want), l.Total)
		})
	}
}

func TestSelect_TiesKeepArrivalOrder(t *testing.T) {
	a := completed(1, "same.png", "b", 0.8, "")
	b := completed(2, "same.png", "b", 0.8, "")
	b.ID = "second"
	l := Select([]models.TrackedFile{b, a}, Query{Sort: SortConfidence})
	require.Len(t, l.Entries, 2)
	assert.Equal(t, 1, l.Entries[0].ArrivalNumber)
	assert.Equal(t, 2, l.Entries[1].ArrivalNumber)
}

func TestSelect_GroupsByBatch(t *testing.T) {
	files := []models.TrackedFile{
		completed(1, "a.png", "b1", 0.9, ""),
		completed(2, "b.png", "b1", 0.7, ""),
		completed(3, "c.png", "b2", 0, ""),
		completed(4, "d.png", "", 0.95, ""),
	}
	l := Select(files, Query{})

	require.Len(t, l.Batches, 3)
	assert.Equal(t, UnknownBatch, l.Batches[0].ID)
	assert.Equal(t, "b2", l.Batches[1].ID)
	assert.Equal(t, "b1", l.Batches[2].ID)

	b1 := l.Batches[2]
	assert.Equal(t, 2, b1.Files)
	assert.Equal(t, int64(300), b1.TotalSize)
	assert.InDelta(t, 0.8, b1.AvgConfidence, 1e-9)
	assert.Equal(t, BandMedium, b1.Band)
	assert.Equal(t, base.Add(2*time.Minute), b1.CompletedAt)
	assert.ElementsMatch(t, []string{"a.png-id", "b.png-id"}, b1.FileIDs)

	// no reported confidence gives a zero average
	assert.Zero(t, l.Batches[1].AvgConfidence)
	assert.Equal(t, BandLow, l.Batches[1].Band)

	assert.InDelta(t, (0.9+0.7+0.95)/3, l.AvgConfidence, 1e-9)
}

func TestSelect_Empty(t *testing.T) {
	l := Select(nil, Query{})
	assert.NotNil(t, l.Entries)
	assert.Empty(t, l.Batches)
	assert.Zero(t, l.Total)
	assert.Zero(t, l.AvgConfidence)
}

func TestEntry_PreviewIsTruncated(t *testing.T) {
	long := strings.Repeat("é", PreviewLength+10)
	l := Select([]models.TrackedFile{completed(1, "long.png", "b", 0.9, long)}, Query{})
	require.Len(t, l.Entries, 1)
	p := l.Entries[0].Preview
	assert.True(t, strings.HasSuffix(p, "..."))
	assert.Equal(t, PreviewLength+3, len([]rune(p)))

	short := Select([]models.TrackedFile{completed(1, "s.png", "b", 0.9, "  hi  ")}, Query{})
	assert.Equal(t, "hi", short.Entries[0].Preview)
}

func TestDetailOf(t *testing.T) {
	f := completed(7, "x.png", "b9", 0.88, "full text")
	f.Parameters.APIKey = "secret"
	f.Parameters.UserName = "Ana"
	f.FinalFilename = "7-x.png"
	f.Result.RequestID = "req-1"
	f.Result.Raw = json.RawMessage(`{"ok":true}`)

	d, err := DetailOf(f)
	require.NoError(t, err)
	assert.Equal(t, "full text", d.Text)
	assert.Equal(t, "req-1", d.RequestID)
	assert.Equal(t, "7-x.png", d.FinalFilename)
	assert.Equal(t, BandMedium, d.Band)
	assert.Empty(t, d.Parameters.APIKey)
	assert.Equal(t, "Ana", d.Parameters.UserName)
	assert.Equal(t, "secret", f.Parameters.APIKey)

	body, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"raw":{"ok":true}`)
	assert.NotContains(t, string(body), "secret")

	_, err = DetailOf(models.TrackedFile{ID: "pending"})
	assert.ErrorIs(t, err, ErrNoResult)
}
