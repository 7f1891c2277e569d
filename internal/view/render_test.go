package view

import (
	"testing"

	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 Bytes"},
		{512, "512 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{500 * 1024, "500 KB"},
		{16 * 1024 * 1024, "16 MB"},
		{1234567, "1.18 MB"},
		{3 * 1024 * 1024 * 1024 * 1024, "3072 GB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, HumanSize(tt.in))
		})
	}
}

func file(id string, n int, status models.FileStatus) models.TrackedFile {
	return models.TrackedFile{
		ID:          id,
		DisplayName: id + ".png",
		SizeBytes:   2048,
		Status:      status,
		Parameters:  models.Parameters{ArrivalNumber: n, APIKey: "secret"},
	}
}

func TestRender_RowsAndHeader(t *testing.T) {
	files := []models.TrackedFile{
		file("a", 1, models.FileStatusPending),
		file("b", 2, models.FileStatusUploaded),
		file("c", 3, models.FileStatusUploaded),
		file("d", 4, models.FileStatusError),
		file("e", 5, models.FileStatusCompleted),
	}
	files[3].LastError = "Resource not found"
	files[4].FinalFilename = "5_e.png"
	files[4].Progress = 150

	v := Render(State{Files: files, Preferences: models.DefaultPreferences()})

	require.Len(t, v.Rows, 5)
	assert.Equal(t, 5, v.Header.Stats.Total)
	assert.Equal(t, 2, v.Header.Stats.Uploaded)
	assert.True(t, v.Header.ProcessEnabled)
	assert.True(t, v.Header.UploadEnabled)
	assert.True(t, v.Header.ClearEnabled)
	assert.Equal(t, "Process batch (2)", v.Header.ProcessLabel)
	assert.Nil(t, v.Resources)
	assert.Equal(t, models.DefaultPreferences(), v.Preferences)

	assert.Equal(t, "Pending", v.Rows[0].Label)
	assert.Equal(t, "secondary", v.Rows[0].Tone)
	assert.Equal(t, []string{ActionRemove}, v.Rows[0].Actions)
	assert.Equal(t, "2 KB", v.Rows[0].Size)
	assert.Empty(t, v.Rows[0].Parameters.APIKey)

	assert.Empty(t, v.Rows[1].Actions)
	assert.Equal(t, []string{ActionRetry, ActionRemove}, v.Rows[3].Actions)
	assert.Equal(t, "Resource not found", v.Rows[3].LastError)
	assert.Equal(t, "danger", v.Rows[3].Tone)

	assert.Equal(t, 100.0, v.Rows[4].Progress)
	assert.True(t, v.Rows[4].Renamed)
	assert.Equal(t, []string{ActionDetails, ActionRemove}, v.Rows[4].Actions)
	assert.Equal(t, 5, v.Rows[4].ArrivalNumber)

	assert.Equal(t, "secret", files[0].Parameters.APIKey)
}

func TestRender_ProcessButtonStates(t *testing.T) {
	v := Render(State{Files: []models.TrackedFile{file("a", 1, models.FileStatusProcessing)}})
	assert.False(t, v.Header.ProcessEnabled)
	assert.False(t, v.Header.ClearEnabled)
	assert.Equal(t, "Process batch", v.Header.ProcessLabel)

	v = Render(State{Files: []models.TrackedFile{file("a", 1, models.FileStatusUploaded)}, Submitting: true})
	assert.False(t, v.Header.ProcessEnabled)
	assert.Equal(t, "Processing...", v.Header.ProcessLabel)

	v = Render(State{})
	assert.NotNil(t, v.Rows)
	assert.Empty(t, v.Rows)
}

func TestRender_Resources(t *testing.T) {
	snap := &models.ResourceSnapshot{CPUPercent: 42.34, MemoryPercent: 120, QueueInbox: 20, QueueProcessing: 5}
	v := Render(State{Resources: snap, ResourcesFailing: true})
	require.NotNil(t, v.Resources)
	assert.Equal(t, "42.3%", v.Resources.CPU.Text)
	assert.Equal(t, 42.34, v.Resources.CPU.Percent)
	assert.Equal(t, 100.0, v.Resources.Memory.Percent)
	assert.Equal(t, "25", v.Resources.Queue.Text)
	assert.Equal(t, 50.0, v.Resources.Queue.Percent)
	assert.True(t, v.Resources.Failing)

	v = Render(State{Resources: &models.ResourceSnapshot{QueueInbox: 80}})
	assert.Equal(t, 100.0, v.Resources.Queue.Percent)
}
