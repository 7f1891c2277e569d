// Package poller reconciles backend OCR results into the file registry.
package poller

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ocr-batch/dashboard/internal/backend"
	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/registry"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval         = 3 * time.Second
	DefaultMaxSilentRetries = 10
	DefaultMaxBackoff       = 30 * time.Second

	// maxParallelFetches bounds the result fetches issued in one tick.
	maxParallelFetches = 8
	// processingStep is how far a processing result nudges progress.
	processingStep = 10.0
	processingCap  = 90.0
)

var imageExt = regexp.MustCompile(`(?i)\.(png|jpg|jpeg)$`)

// cleanID turns a backend filename into the id used by the result endpoint.
func cleanID(name string) string {
	return imageExt.ReplaceAllString(name, "")
}

// ResultID returns the backend result id of a tracked file.
func ResultID(f models.TrackedFile) string {
	if f.FinalFilename != "" {
		return cleanID(f.FinalFilename)
	}
	return f.ID
}

// Fetcher fetches a single OCR result.
type Fetcher interface {
	GetResult(ctx context.Context, id string) (models.Result, error)
}

// Policy tunes polling and failure handling. Zero values use the defaults.
type Policy struct {
	Interval         time.Duration
	MaxSilentRetries int
	MaxBackoff       time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.MaxSilentRetries <= 0 {
		p.MaxSilentRetries = DefaultMaxSilentRetries
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	return p
}

type pollState struct {
	failures int
	wait     int
	flagged  bool
}

// Handle is one running polling task.
type Handle struct {
	ID        string
	StartedAt time.Time

	interval time.Duration
	active   atomic.Bool
	complete atomic.Bool
	cancel   context.CancelFunc
	ctx      context.Context
	done     chan struct{}

	mu      sync.Mutex
	ids     []string
	tracked map[string]*pollState
	ticks   int
}

// Active reports whether results are still being applied for this handle.
func (h *Handle) Active() bool { return h.active.Load() }

// Completed reports whether polling ended because every id reached a terminal state.
func (h *Handle) Completed() bool { return h.complete.Load() }

// Done is closed when the polling goroutine exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Remaining returns the ids still being polled.
func (h *Handle) Remaining() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.tracked))
	for _, id := range h.ids {
		if _, ok := h.tracked[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// HandleInfo is a snapshot of a handle for display.
type HandleInfo struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Remaining []string  `json:"remaining"`
	Ticks     int       `json:"ticks"`
	Active    bool      `json:"active"`
	Completed bool      `json:"completed"`
}

// Info returns a snapshot of the handle.
func (h *Handle) Info() HandleInfo {
	remaining := h.Remaining()
	h.mu.Lock()
	ticks := h.ticks
	h.mu.Unlock()
	return HandleInfo{
		ID:        h.ID,
		StartedAt: h.StartedAt,
		Remaining: remaining,
		Ticks:     ticks,
		Active:    h.Active(),
		Completed: h.Completed(),
	}
}

// Reconciler polls result endpoints and merges the results into the registry.
type Reconciler struct {
	reg     *registry.Registry
	fetcher Fetcher
	policy  Policy

	mu         sync.Mutex
	handles    map[string]*Handle
	onComplete []func(*Handle)
}

// New creates a reconciler.
func New(reg *registry.Registry, fetcher Fetcher, policy Policy) *Reconciler {
	return &Reconciler{
		reg:     reg,
		fetcher: fetcher,
		policy:  policy.withDefaults(),
		handles: make(map[string]*Handle),
	}
}

// OnComplete registers fn to be called once per handle when all of its ids
// reach a terminal state. Stopped handles do not fire.
func (r *Reconciler) OnComplete(fn func(*Handle)) {
	r.mu.Lock()
	r.onComplete = append(r.onComplete, fn)
	r.mu.Unlock()
}

// StartPolling begins polling the given tracked file ids. The first tick runs
// immediately. A zero interval uses the policy interval.
func (r *Reconciler) StartPolling(ids []string, interval time.Duration) *Handle {
	if interval <= 0 {
		interval = r.policy.Interval
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		interval:  interval,
		cancel:    cancel,
		ctx:       ctx,
		done:      make(chan struct{}),
		tracked:   make(map[string]*pollState),
	}
	for _, id := range ids {
		if _, dup := h.tracked[id]; dup {
			continue
		}
		h.ids = append(h.ids, id)
		h.tracked[id] = &pollState{}
	}
	h.active.Store(true)

	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()

	fmt.Printf("[Poller %s] started for %d files every %s\n", h.ID[:8], len(h.ids), interval)
	go r.run(h)
	return h
}

// Stop cancels future ticks of h. Fetches already in flight finish but their
// results are discarded.
func (r *Reconciler) Stop(h *Handle) {
	if h == nil {
		return
	}
	if h.active.CompareAndSwap(true, false) {
		fmt.Printf("[Poller %s] stopped\n", h.ID[:8])
	}
	h.cancel()
}

// StopByID stops the handle with the given id.
func (r *Reconciler) StopByID(id string) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()
	if ok {
		r.Stop(h)
	}
	return ok
}

// StopAll stops every running handle.
func (r *Reconciler) StopAll() {
	for _, h := range r.Handles() {
		r.Stop(h)
	}
}

// Handles returns the running handles ordered by start time.
func (r *Reconciler) Handles() []*Handle {
	r.mu.Lock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *Reconciler) run(h *Handle) {
	defer close(h.done)
	defer func() {
		r.mu.Lock()
		delete(r.handles, h.ID)
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if finished := r.tick(h); finished {
			r.finish(h)
			return
		}
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) finish(h *Handle) {
	if !h.active.CompareAndSwap(true, false) {
		return
	}
	h.complete.Store(true)
	h.cancel()
	fmt.Printf("[Poller %s] all files terminal, polling finished\n", h.ID[:8])

	r.mu.Lock()
	hooks := append([]func(*Handle){}, r.onComplete...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(h)
	}
}

type fetchJob struct {
	id       string
	resultID string
	// backfill is set for files already completed by the batch call whose
	// OCR payload has not been fetched yet.
	backfill bool
	result   models.Result
	err      error
}

// tick runs one polling round and reports whether every id is terminal or gone.
func (r *Reconciler) tick(h *Handle) bool {
	if !h.Active() {
		return false
	}

	jobs, finished := r.prune(h, true)
	if finished {
		return true
	}
	if len(jobs) == 0 {
		return false
	}

	g := new(errgroup.Group)
	g.SetLimit(maxParallelFetches)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			job.result, job.err = r.fetcher.GetResult(context.Background(), job.resultID)
			return nil
		})
	}
	_ = g.Wait()

	// results of a stopped handle are discarded
	if !h.Active() {
		return false
	}

	for _, job := range jobs {
		if job.err != nil {
			r.recordFailure(h, job)
			continue
		}
		r.merge(h, job)
	}

	_, finished = r.prune(h, false)
	return finished
}

// prune drops removed and terminal ids from the handle and, when collect is
// set, returns the fetch jobs due this tick.
func (r *Reconciler) prune(h *Handle, collect bool) ([]*fetchJob, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if collect {
		h.ticks++
	}
	var jobs []*fetchJob
	for _, id := range h.ids {
		st, ok := h.tracked[id]
		if !ok {
			continue
		}
		f, exists := r.reg.Get(id)
		backfill := exists && f.Status == models.FileStatusCompleted && f.Result == nil
		if !exists || (f.Status.IsTerminal() && !backfill) {
			delete(h.tracked, id)
			continue
		}
		if !collect {
			continue
		}
		if st.wait > 0 {
			st.wait--
			if st.wait > 0 {
				continue
			}
		}
		jobs = append(jobs, &fetchJob{id: id, resultID: ResultID(f), backfill: backfill})
	}
	if collect && len(h.tracked) > 0 {
		fmt.Printf("[Poller %s] tick %d: %d pending, %d fetching\n", h.ID[:8], h.ticks, len(h.tracked), len(jobs))
	}
	return jobs, len(h.tracked) == 0
}

// backoffTicks returns how many ticks to wait before the next attempt after
// the given number of consecutive failures.
func (r *Reconciler) backoffTicks(h *Handle, failures int) int {
	maxTicks := int(r.policy.MaxBackoff / h.interval)
	if maxTicks < 1 {
		maxTicks = 1
	}
	wait := 1
	for i := 1; i < failures && wait < maxTicks; i++ {
		wait *= 2
	}
	if wait > maxTicks {
		wait = maxTicks
	}
	return wait
}

func (r *Reconciler) recordFailure(h *Handle, job *fetchJob) {
	if !h.Active() {
		return
	}
	h.mu.Lock()
	st, ok := h.tracked[job.id]
	if !ok {
		h.mu.Unlock()
		return
	}
	st.failures++
	st.wait = r.backoffTicks(h, st.failures)
	if job.backfill && st.failures >= r.policy.MaxSilentRetries {
		delete(h.tracked, job.id)
		h.mu.Unlock()
		return
	}
	flag := !job.backfill && st.failures >= r.policy.MaxSilentRetries && !st.flagged
	if flag {
		st.flagged = true
	}
	failures := st.failures
	h.mu.Unlock()

	if !flag {
		return
	}
	msg := backend.UserMessage(job.err)
	fmt.Printf("[Poller %s] %s failed %d times: %v\n", h.ID[:8], job.resultID, failures, job.err)
	r.reg.Update([]string{job.id}, func(f *models.TrackedFile) bool {
		if !h.Active() || f.Status.IsTerminal() {
			return false
		}
		f.LastError = msg
		return true
	})
}

// merge applies one fetched result. A stopped handle applies nothing, even
// mid-loop.
func (r *Reconciler) merge(h *Handle, job *fetchJob) {
	if !h.Active() {
		return
	}
	h.mu.Lock()
	st, ok := h.tracked[job.id]
	var wasFlagged bool
	if ok {
		wasFlagged = st.flagged
		st.failures, st.wait, st.flagged = 0, 0, false
		if job.backfill {
			// one answer settles a backfill, whatever its state
			delete(h.tracked, job.id)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	res := job.result
	r.reg.Update([]string{job.id}, func(f *models.TrackedFile) bool {
		if !h.Active() {
			return false
		}
		if f.Status == models.FileStatusCompleted {
			if res.State != models.ResultCompleted || f.Result != nil || res.Data == nil {
				return false
			}
			data := *res.Data
			f.Result = &data
			if f.RequestID == "" {
				f.RequestID = res.RequestID
			}
			return true
		}
		if f.Status.IsTerminal() {
			return false
		}
		changed := false
		if wasFlagged && f.LastError != "" {
			f.LastError = ""
			changed = true
		}
		switch res.State {
		case models.ResultCompleted:
			if !f.Status.CanTransition(models.FileStatusCompleted) {
				return changed
			}
			f.Status = models.FileStatusCompleted
			f.Progress = 100
			if res.Data != nil {
				data := *res.Data
				f.Result = &data
			}
			if res.RequestID != "" {
				f.RequestID = res.RequestID
			}
			return true
		case models.ResultErrored:
			if !f.Status.CanTransition(models.FileStatusError) {
				return changed
			}
			f.Status = models.FileStatusError
			f.Progress = 0
			f.LastError = res.Message
			if f.LastError == "" {
				f.LastError = "OCR processing failed"
			}
			return true
		case models.ResultProcessing:
			if f.Status != models.FileStatusProcessing {
				if !f.Status.CanTransition(models.FileStatusProcessing) {
					return changed
				}
				f.Status = models.FileStatusProcessing
				f.Progress = 0
				changed = true
			}
			next := f.Progress + processingStep
			if next > processingCap {
				next = processingCap
			}
			if next > f.Progress {
				f.Progress = next
				changed = true
			}
			if res.RequestID != "" && f.RequestID == "" {
				f.RequestID = res.RequestID
				changed = true
			}
		}
		return changed
	})
}
