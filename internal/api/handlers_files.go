// handlers_files.go - Tracked-file queue handlers
package api

import (
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/ocr-batch/dashboard/internal/dashboard"
	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// FilesHandlerImpl implements the FilesHandler interface
type FilesHandlerImpl struct {
	app *dashboard.App
}

// NewFilesHandler creates a new files handler instance
func NewFilesHandler(app *dashboard.App) FilesHandler {
	return &FilesHandlerImpl{app: app}
}

type addFileResult struct {
	Name     string              `json:"name"`
	Accepted bool                `json:"accepted"`
	File     *models.TrackedFile `json:"file,omitempty"`
	Reason   string              `json:"reason,omitempty"`
}

type addFilesResponse struct {
	Added    int             `json:"added"`
	Rejected int             `json:"rejected"`
	Results  []addFileResult `json:"results"`
}

// HandleListFiles returns the tracked files, optionally filtered with
// ?status=pending,error
func (h *FilesHandlerImpl) HandleListFiles(c echo.Context) error {
	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return err
	}
	files := redact(h.app.Files(statuses...))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"files": files,
		"stats": h.app.Registry().Stats(),
	})
}

// HandleListFilesMsgpack returns the tracked files in MessagePack format
func (h *FilesHandlerImpl) HandleListFilesMsgpack(c echo.Context) error {
	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(map[string]interface{}{
		"files": h.app.Files(statuses...),
		"total": h.app.Registry().Len(),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleAddFiles accepts a multipart form with one or more images under
// "files[]" (or "files") and tracks each of them
func (h *FilesHandlerImpl) HandleAddFiles(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}
	defer form.RemoveAll()

	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}
	if len(headers) == 0 {
		return NewValidationError("files")
	}

	incoming := make([]dashboard.Incoming, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return NewBadRequestError("failed to read "+fh.Filename, err)
		}
		opened = append(opened, f)
		incoming = append(incoming, dashboard.Incoming{
			Name:     fh.Filename,
			MimeType: fh.Header.Get(echo.HeaderContentType),
			Body:     f,
		})
	}

	results := h.app.AddFiles(incoming)
	resp := addFilesResponse{Results: make([]addFileResult, 0, len(results))}
	for i, res := range results {
		out := addFileResult{Name: headers[i].Filename, Accepted: res.Accepted, Reason: res.RejectedReason}
		if res.Accepted {
			file := res.File
			out.File = &file
			resp.Added++
		} else {
			resp.Rejected++
		}
		resp.Results = append(resp.Results, out)
	}

	status := http.StatusCreated
	if resp.Added == 0 {
		status = http.StatusOK
	}
	return c.JSON(status, resp)
}

// HandleRemoveFile stops tracking a file
func (h *FilesHandlerImpl) HandleRemoveFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	if err := h.app.RemoveFile(id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleUpdateParameters patches the parameters of a file
func (h *FilesHandlerImpl) HandleUpdateParameters(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	var patch models.ParameterPatch
	if err := c.Bind(&patch); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	f, err := h.app.UpdateParameters(id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, redactOne(f))
}

// HandleRetryFile moves a failed file back to pending
func (h *FilesHandlerImpl) HandleRetryFile(c echo.Context) error {
	f, err := h.app.Retry(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, redactOne(f))
}

// HandleClearQueue removes every file that is not in flight
func (h *FilesHandlerImpl) HandleClearQueue(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"removed": h.app.ClearQueue()})
}

func parseStatuses(raw string) ([]models.FileStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.FileStatus
	for _, s := range strings.Split(raw, ",") {
		st := models.FileStatus(strings.TrimSpace(s))
		valid := false
		for _, known := range models.AllFileStatuses {
			if st == known {
				valid = true
				break
			}
		}
		if !valid {
			return nil, NewBadRequestError("unknown status: "+string(st), nil)
		}
		out = append(out, st)
	}
	return out, nil
}

// redact blanks API keys before files leave the process.
func redact(files []models.TrackedFile) []models.TrackedFile {
	for i := range files {
		files[i].Parameters.APIKey = ""
	}
	return files
}

func redactOne(f models.TrackedFile) models.TrackedFile {
	f.Parameters.APIKey = ""
	return f
}
