// Package dashboard owns every component of the batch dashboard and wires
// them together: tracked files, spooled payloads, resource sampling, batch
// size advice, submission, result polling, metrics and preferences.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ocr-batch/dashboard/internal/advisor"
	"github.com/ocr-batch/dashboard/internal/backend"
	"github.com/ocr-batch/dashboard/internal/metrics"
	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/params"
	"github.com/ocr-batch/dashboard/internal/poller"
	"github.com/ocr-batch/dashboard/internal/prefs"
	"github.com/ocr-batch/dashboard/internal/registry"
	"github.com/ocr-batch/dashboard/internal/resources"
	"github.com/ocr-batch/dashboard/internal/results"
	"github.com/ocr-batch/dashboard/internal/storage"
	"github.com/ocr-batch/dashboard/internal/submit"
	"github.com/ocr-batch/dashboard/internal/view"
)

// Backend is the OCR backend contract the dashboard talks to.
type Backend interface {
	submit.Backend
	poller.Fetcher
	resources.Fetcher
	ExtractResults(ctx context.Context) (json.RawMessage, error)
	CleanQueue(ctx context.Context) (json.RawMessage, error)
	Clean(ctx context.Context) (json.RawMessage, error)
	QueueStatus(ctx context.Context) (backend.QueueStatus, error)
}

// Settings are the tunables taken from configuration. Zero values fall back
// to the package defaults of each component.
type Settings struct {
	MaxBatchSize     int
	MaxFileSize      int64
	AllowedTypes     []string
	ResourceInterval time.Duration
	PollInterval     time.Duration
	MaxSilentRetries int
	MaxBackoff       time.Duration
	DefaultProfile   string
	MetricsCapacity  int
}

// Deps are the externally constructed collaborators.
type Deps struct {
	Backend Backend
	Spool   *storage.Spool
	Prefs   *prefs.Store
	History *metrics.History // optional
}

// Incoming is one file received from a client.
type Incoming struct {
	Name     string
	MimeType string
	Body     io.Reader
}

// SubmitRequest is a batch submission for the given files.
type SubmitRequest struct {
	IDs        []string                   `json:"ids"`
	Parameters submit.EssentialParameters `json:"parameters"`
	Profile    string                     `json:"profile,omitempty"`
	// Poll starts a polling handle over the included files once the batch
	// is accepted.
	Poll bool `json:"poll,omitempty"`
}

// SubmitOutcome is the result of Submit.
type SubmitOutcome struct {
	Batch  submit.BatchResult `json:"batch"`
	Handle *poller.HandleInfo `json:"handle,omitempty"`
}

// App is the application root.
type App struct {
	settings Settings

	reg        *registry.Registry
	spool      *storage.Spool
	backend    Backend
	sampler    *resources.Sampler
	advisor    advisor.Advisor
	submitter  *submit.Submitter
	reconciler *poller.Reconciler
	recorder   *metrics.Recorder
	prefs      *prefs.Store

	noticeMu    sync.RWMutex
	notice      string
	noticeHooks map[int]func(NoticeEvent)
	nextHook    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the application from deps and settings.
func New(deps Deps, settings Settings) (*App, error) {
	if deps.Backend == nil {
		return nil, errors.New("dashboard: backend is required")
	}
	if deps.Spool == nil {
		return nil, errors.New("dashboard: spool is required")
	}
	if deps.Prefs == nil {
		return nil, errors.New("dashboard: preferences store is required")
	}
	if settings.DefaultProfile == "" {
		settings.DefaultProfile = submit.DefaultProfile
	}

	a := &App{
		settings: settings,
		spool:    deps.Spool,
		backend:  deps.Backend,
		prefs:    deps.Prefs,
		advisor:  advisor.New(settings.MaxBatchSize),
	}
	a.reg = registry.New(registry.Options{
		MaxFileSize:  settings.MaxFileSize,
		AllowedTypes: settings.AllowedTypes,
	})
	a.sampler = resources.NewSampler(deps.Backend, settings.ResourceInterval)
	a.recorder = metrics.NewRecorder(metrics.NewRing(settings.MetricsCapacity), deps.History, a.latestSnapshot)
	a.submitter = submit.New(a.reg, deps.Backend, submit.Options{
		BatchSize: func() int { return a.prefs.Load().BatchSize },
		OnBatchCompleted: func(res submit.BatchResult) {
			a.recorder.RecordBatch(res)
		},
	})
	a.reconciler = poller.New(a.reg, deps.Backend, poller.Policy{
		Interval:         settings.PollInterval,
		MaxSilentRetries: settings.MaxSilentRetries,
		MaxBackoff:       settings.MaxBackoff,
	})
	a.reconciler.OnComplete(func(h *poller.Handle) {
		fmt.Printf("[Dashboard] polling %s settled after %d ticks\n", h.ID[:8], h.Info().Ticks)
	})
	return a, nil
}

// Registry returns the tracked-file registry.
func (a *App) Registry() *registry.Registry { return a.reg }

// Recorder returns the metrics recorder.
func (a *App) Recorder() *metrics.Recorder { return a.recorder }

// Backend returns the backend client.
func (a *App) Backend() Backend { return a.backend }

// Start restores persisted metrics and launches the resource sampler. It
// returns immediately; Close stops the loop.
func (a *App) Start(ctx context.Context) {
	if n, err := a.recorder.Restore(ctx); err != nil {
		fmt.Printf("[Dashboard] metrics history restore failed: %v\n", err)
	} else if n > 0 {
		fmt.Printf("[Dashboard] restored %d metric samples\n", n)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sampler.Run(ctx, a.onSample)
	}()
	fmt.Printf("[Dashboard] sampling resources every %s\n", a.sampler.Interval())
}

// Close stops the sampler and every polling handle. Spooled payloads are
// dropped since tracked files do not outlive the process.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.reconciler.StopAll()
	if n, err := a.spool.Purge(); err != nil {
		fmt.Printf("[Dashboard] purging spool failed: %v\n", err)
	} else if n > 0 {
		fmt.Printf("[Dashboard] purged %d spooled payloads\n", n)
	}
}

func (a *App) onSample(snap models.ResourceSnapshot, err error) {
	if err != nil {
		return
	}
	var msg string
	_, err = a.prefs.Modify(func(p *models.Preferences) bool {
		if !p.AutoOptimize {
			return false
		}
		next := a.advisor.Advise(p.BatchSize, snap)
		if next == p.BatchSize {
			return false
		}
		p.BatchSize = next
		msg = a.advisor.Message(next, snap)
		return true
	})
	if err != nil {
		fmt.Printf("[Dashboard] saving batch size failed: %v\n", err)
		return
	}
	if msg == "" {
		return
	}
	a.setNotice(NoticeInfo, msg)
	fmt.Printf("[Dashboard] %s\n", msg)
}

func (a *App) latestSnapshot() *models.ResourceSnapshot {
	snap, ok, _ := a.sampler.Latest()
	if !ok {
		return nil
	}
	return &snap
}

// Notice levels.
const (
	NoticeInfo  = "info"
	NoticeError = "error"
)

// NoticeEvent is a one-off message for every connected client: automatic
// batch size changes and failed uploads or submissions.
type NoticeEvent struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// OnNotice registers fn for every new notice. The returned func unregisters it.
func (a *App) OnNotice(fn func(NoticeEvent)) (cancel func()) {
	a.noticeMu.Lock()
	defer a.noticeMu.Unlock()
	if a.noticeHooks == nil {
		a.noticeHooks = make(map[int]func(NoticeEvent))
	}
	id := a.nextHook
	a.nextHook++
	a.noticeHooks[id] = fn
	return func() {
		a.noticeMu.Lock()
		delete(a.noticeHooks, id)
		a.noticeMu.Unlock()
	}
}

func (a *App) setNotice(level, msg string) {
	ev := NoticeEvent{Level: level, Message: msg, At: time.Now()}
	a.noticeMu.Lock()
	a.notice = msg
	hooks := make([]func(NoticeEvent), 0, len(a.noticeHooks))
	for _, fn := range a.noticeHooks {
		hooks = append(hooks, fn)
	}
	a.noticeMu.Unlock()

	for _, fn := range hooks {
		fn(ev)
	}
}

// noticeFailure surfaces a failed backend call of an upload or submission.
// Local refusals such as a busy submitter stay with the caller.
func (a *App) noticeFailure(err error) {
	if backend.IsNetwork(err) || backend.IsBackend(err) {
		a.setNotice(NoticeError, backend.UserMessage(err))
	}
}

// Notice returns the most recent notice message.
func (a *App) Notice() string {
	a.noticeMu.RLock()
	defer a.noticeMu.RUnlock()
	return a.notice
}

// AddFiles spools each payload and tracks it. Rejected files leave nothing
// behind in the spool. With auto-optimize on, the batch size is re-derived
// from the number of pending files after any addition.
func (a *App) AddFiles(files []Incoming) []registry.AddResult {
	out := make([]registry.AddResult, 0, len(files))
	added := 0
	for _, in := range files {
		res, err := a.addOne(in)
		if err != nil {
			var verr *registry.ValidationError
			if !errors.As(err, &verr) {
				res = registry.AddResult{RejectedReason: err.Error()}
			}
		}
		if res.Accepted {
			added++
		}
		out = append(out, res)
	}

	if added > 0 {
		next := a.advisor.AdviseFromFileCount(len(a.reg.IDs(models.FileStatusPending)))
		_, err := a.prefs.Modify(func(p *models.Preferences) bool {
			if !p.AutoOptimize || next == p.BatchSize {
				return false
			}
			p.BatchSize = next
			return true
		})
		if err != nil {
			fmt.Printf("[Dashboard] saving batch size failed: %v\n", err)
		}
	}
	return out
}

func (a *App) addOne(in Incoming) (registry.AddResult, error) {
	blob, err := a.spool.Save(in.Name, in.MimeType, in.Body, a.maxFileSize())
	if errors.Is(err, storage.ErrTooLarge) {
		// Let the registry produce the too_large rejection.
		return a.reg.Add(registry.AddRequest{Name: in.Name, Size: blob.Size, MimeType: in.MimeType})
	}
	if err != nil {
		return registry.AddResult{}, fmt.Errorf("spooling %s: %w", in.Name, err)
	}

	src := a.spool.Source(blob.ID)
	res, err := a.reg.Add(registry.AddRequest{
		Name:     in.Name,
		Size:     blob.Size,
		MimeType: in.MimeType,
		Source:   src,
	})
	if !res.Accepted {
		src.Release()
	}
	return res, err
}

func (a *App) maxFileSize() int64 {
	if a.settings.MaxFileSize > 0 {
		return a.settings.MaxFileSize
	}
	return registry.DefaultMaxFileSize
}

// Files returns the tracked files, optionally filtered by status.
func (a *App) Files(statuses ...models.FileStatus) []models.TrackedFile {
	return a.reg.List(statuses...)
}

// RemoveFile stops tracking a file.
func (a *App) RemoveFile(id string) error {
	return a.reg.Remove(id)
}

// ClearQueue removes every file that is not in flight.
func (a *App) ClearQueue() int {
	return a.reg.ClearQueue()
}

// UpdateParameters patches a file's parameters.
func (a *App) UpdateParameters(id string, patch models.ParameterPatch) (models.TrackedFile, error) {
	return a.reg.UpdateParameters(id, patch)
}

// Retry moves a failed file back to pending.
func (a *App) Retry(id string) (models.TrackedFile, error) {
	return a.submitter.Retry(id)
}

// Upload sends the given pending files, or every pending file when ids is empty.
func (a *App) Upload(ctx context.Context, ids []string, opts submit.UploadOptions) (submit.UploadResult, error) {
	if len(ids) == 0 {
		ids = a.reg.IDs(models.FileStatusPending)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = a.prefs.Load().BatchSize
	}
	res, err := a.submitter.UploadFiles(ctx, ids, opts)
	if err != nil {
		a.noticeFailure(err)
	}
	return res, err
}

// Submit processes the given uploaded files, or every uploaded file when ids
// is empty, and optionally starts polling the included files.
func (a *App) Submit(ctx context.Context, req SubmitRequest) (SubmitOutcome, error) {
	ids := req.IDs
	if len(ids) == 0 {
		ids = a.reg.IDs(models.FileStatusUploaded)
	}
	profile := req.Profile
	if profile == "" {
		profile = a.settings.DefaultProfile
	}
	res, err := a.submitter.SubmitBatch(ctx, ids, req.Parameters, profile)
	out := SubmitOutcome{Batch: res}
	if err != nil {
		a.noticeFailure(err)
		return out, err
	}
	if req.Poll {
		info := a.StartPolling(res.Included, 0).Info()
		out.Handle = &info
	}
	return out, nil
}

// Submitting reports whether an upload or submission is in flight.
func (a *App) Submitting() bool {
	return a.submitter.Busy()
}

// StartPolling reconciles the given files against backend results. A zero
// interval uses the configured one.
func (a *App) StartPolling(ids []string, interval time.Duration) *poller.Handle {
	return a.reconciler.StartPolling(ids, interval)
}

// StopPolling cancels a polling handle by id.
func (a *App) StopPolling(handleID string) bool {
	return a.reconciler.StopByID(handleID)
}

// PollHandles describes the live polling handles.
func (a *App) PollHandles() []poller.HandleInfo {
	handles := a.reconciler.Handles()
	out := make([]poller.HandleInfo, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Info())
	}
	return out
}

// SpoolStatus describes the payloads waiting in the spool.
type SpoolStatus struct {
	Dir    string     `json:"dir"`
	Blobs  int        `json:"blobs"`
	Bytes  int64      `json:"bytes"`
	Oldest *time.Time `json:"oldest,omitempty"`
}

// Status summarizes the health of the dashboard and its backend.
type Status struct {
	BackendURL       string      `json:"backendUrl,omitempty"`
	Backend          string      `json:"backend"`
	ResourceFailures int         `json:"resourceFailures"`
	ResourceError    string      `json:"resourceError,omitempty"`
	Files            int         `json:"files"`
	Polling          int         `json:"polling"`
	Spool            SpoolStatus `json:"spool"`
}

// Status reports the backend reachability as seen by the resource sampler
// along with queue and spool counters.
func (a *App) Status() Status {
	_, sampled, failing := a.sampler.Latest()
	st := Status{
		Backend:          "unknown",
		ResourceFailures: a.sampler.ConsecutiveFailures(),
		Files:            a.reg.Len(),
		Polling:          len(a.reconciler.Handles()),
		Spool: SpoolStatus{
			Dir:   a.spool.Dir(),
			Blobs: a.spool.Len(),
			Bytes: a.spool.Usage(),
		},
	}
	switch {
	case failing:
		st.Backend = "unreachable"
	case sampled:
		st.Backend = "ok"
	}
	if err := a.sampler.LastError(); err != nil {
		st.ResourceError = backend.UserMessage(err)
	}
	if u, ok := a.backend.(interface{ BaseURL() string }); ok {
		st.BackendURL = u.BaseURL()
	}
	if blobs := a.spool.List(); len(blobs) > 0 {
		oldest := blobs[len(blobs)-1].SavedAt
		st.Spool.Oldest = &oldest
	}
	return st
}

// Resources returns the latest resource snapshot.
func (a *App) Resources() (snap models.ResourceSnapshot, ok bool, failing bool) {
	return a.sampler.Latest()
}

// SampleResources fetches a fresh snapshot immediately.
func (a *App) SampleResources(ctx context.Context) (models.ResourceSnapshot, error) {
	snap, err := a.sampler.Sample(ctx)
	a.onSample(snap, err)
	return snap, err
}

// Preferences returns the stored preferences.
func (a *App) Preferences() models.Preferences {
	return a.prefs.Load()
}

// SetPreferences persists p immediately and returns the stored value.
func (a *App) SetPreferences(p models.Preferences) (models.Preferences, error) {
	return a.prefs.Save(p)
}

// PreferencesPatch changes only the fields that are set.
type PreferencesPatch struct {
	BatchSize    *int  `json:"batchSize"`
	AutoOptimize *bool `json:"autoOptimize"`
}

// UpdatePreferences applies patch to the stored preferences in one step, so
// an automatic batch size change landing at the same time is not lost.
func (a *App) UpdatePreferences(patch PreferencesPatch) (models.Preferences, error) {
	return a.prefs.Modify(func(p *models.Preferences) bool {
		if patch.BatchSize != nil {
			p.BatchSize = *patch.BatchSize
		}
		if patch.AutoOptimize != nil {
			p.AutoOptimize = *patch.AutoOptimize
		}
		return true
	})
}

// MaxBatchSize is the upper bound of the batch size slider.
func (a *App) MaxBatchSize() int {
	return a.advisor.MaxBatchSize
}

// Metrics returns the recent batch samples and their summary.
func (a *App) Metrics() ([]models.BatchMetricSample, models.MetricsSummary) {
	return a.recorder.Ring().Samples(), a.recorder.Summary()
}

// AllTimeMetrics aggregates every persisted batch sample. ok is false when
// no history database is configured.
func (a *App) AllTimeMetrics(ctx context.Context) (models.MetricsSummary, bool, error) {
	return a.recorder.AllTime(ctx)
}

// ResetMetrics drops the in-memory batch samples and returns how many were
// dropped. Persisted history is kept.
func (a *App) ResetMetrics() int {
	n := a.recorder.Ring().Reset()
	fmt.Printf("[Metrics] reset, %d samples dropped\n", n)
	return n
}

// Results lists the completed files that carry an OCR result.
func (a *App) Results(q results.Query) results.Listing {
	return results.Select(a.reg.List(models.FileStatusCompleted), q)
}

// Result returns the full OCR result of one file.
func (a *App) Result(id string) (results.Detail, error) {
	f, ok := a.reg.Get(id)
	if !ok {
		return results.Detail{}, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
	}
	return results.DetailOf(f)
}

// ExportParameters builds a parameter template for every tracked file.
func (a *App) ExportParameters(global submit.EssentialParameters) params.Template {
	return params.Export(a.reg.List(), global, time.Now())
}

// ImportParameters applies a template and returns how many files changed.
func (a *App) ImportParameters(t params.Template) int {
	return params.Apply(a.reg, t)
}

// GenerateParameters fills every tracked file with generated parameters.
func (a *App) GenerateParameters(base submit.EssentialParameters) int {
	return params.ApplyGenerated(a.reg, base, time.Now())
}

// View renders the current dashboard state.
func (a *App) View() view.View {
	snap, ok, failing := a.sampler.Latest()
	s := view.State{
		Files:            a.reg.List(),
		Preferences:      a.prefs.Load(),
		ResourcesFailing: failing,
		Submitting:       a.submitter.Busy(),
		Metrics:          a.recorder.Summary(),
	}
	if ok {
		s.Resources = &snap
	}
	return view.Render(s)
}
