// Package registry holds the in-memory set of tracked files and their lifecycle state.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ocr-batch/dashboard/internal/models"
)

// DefaultMaxFileSize is the per-file ceiling accepted by the OCR backend.
const DefaultMaxFileSize int64 = 16 * 1024 * 1024

// DefaultAllowedTypes lists the MIME types accepted at add time.
var DefaultAllowedTypes = []string{"image/png", "image/jpeg", "image/jpg"}

// EventKind identifies the kind of registry mutation.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
	EventUpdated EventKind = "updated"
	EventCleared EventKind = "cleared"
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Kind EventKind `json:"kind"`
	IDs  []string  `json:"ids"`
}

// Options configures validation limits.
type Options struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// AddRequest describes a file selected by the user.
type AddRequest struct {
	Name     string
	Size     int64
	MimeType string
	Source   models.Source
}

// AddResult reports the outcome of Add.
type AddResult struct {
	Accepted       bool               `json:"accepted"`
	File           models.TrackedFile `json:"file"`
	RejectedReason string             `json:"rejectedReason,omitempty"`
}

// Registry is the tracked-file store. It is safe for concurrent use;
// every mutation is applied under one lock so readers never observe a
// half-applied multi-file update.
type Registry struct {
	mu      sync.RWMutex
	files   map[string]*models.TrackedFile
	order   []string
	opts    Options
	allowed map[string]struct{}
	pending []Event
	now     func() time.Time

	// notifyMu serializes delivery so subscribers see events in mutation order.
	notifyMu    sync.Mutex
	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSub     int
}

// New creates an empty registry. Zero option values fall back to the defaults.
func New(opts Options) *Registry {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if len(opts.AllowedTypes) == 0 {
		opts.AllowedTypes = DefaultAllowedTypes
	}
	allowed := make(map[string]struct{}, len(opts.AllowedTypes))
	for _, t := range opts.AllowedTypes {
		allowed[normalizeMime(t)] = struct{}{}
	}
	return &Registry{
		files:       make(map[string]*models.TrackedFile),
		opts:        opts,
		allowed:     allowed,
		now:         time.Now,
		subscribers: make(map[int]func(Event)),
	}
}

// Subscribe registers fn to be called after every mutation. Subscribers run
// outside the registry lock and may read from the registry, but must not
// mutate it. The returned function unsubscribes.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subscribers, id)
		r.subMu.Unlock()
	}
}

// Add validates and tracks a new file.
func (r *Registry) Add(req AddRequest) (AddResult, error) {
	r.mu.Lock()
	if verr := r.validateLocked(req); verr != nil {
		r.mu.Unlock()
		fmt.Printf("[Registry] rejected %s: %s\n", req.Name, verr.Reason)
		return AddResult{Accepted: false, RejectedReason: verr.Reason}, verr
	}

	now := r.now()
	f := &models.TrackedFile{
		ID:          uuid.New().String(),
		Source:      req.Source,
		DisplayName: req.Name,
		SizeBytes:   req.Size,
		MimeType:    req.MimeType,
		Status:      models.FileStatusPending,
		AddedAt:     now,
		UpdatedAt:   now,
	}
	r.files[f.ID] = f
	r.order = append(r.order, f.ID)
	r.renumberLocked()
	r.pending = append(r.pending, Event{Kind: EventAdded, IDs: []string{f.ID}})
	out := *f
	r.mu.Unlock()

	fmt.Printf("[Registry] added %s (id %s, #%d)\n", out.DisplayName, out.ID[:8], out.Parameters.ArrivalNumber)
	r.flush()
	return AddResult{Accepted: true, File: out}, nil
}

func (r *Registry) validateLocked(req AddRequest) *ValidationError {
	if _, ok := r.allowed[normalizeMime(req.MimeType)]; !ok {
		return &ValidationError{
			Name:   req.Name,
			Reason: ReasonUnsupportedType,
			Detail: fmt.Sprintf("type %q not in %s", req.MimeType, strings.Join(r.opts.AllowedTypes, ", ")),
		}
	}
	if req.Size > r.opts.MaxFileSize {
		return &ValidationError{
			Name:   req.Name,
			Reason: ReasonTooLarge,
			Detail: fmt.Sprintf("%d bytes exceeds the %d MB limit", req.Size, r.opts.MaxFileSize/(1024*1024)),
		}
	}
	for _, f := range r.files {
		if f.DisplayName == req.Name && f.SizeBytes == req.Size {
			return &ValidationError{Name: req.Name, Reason: ReasonDuplicate, Detail: "already in the queue"}
		}
	}
	return nil
}

// Remove deletes a file that is pending, errored or completed.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	f, ok := r.files[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if !f.Status.CanRemove() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRemovable, f.Status)
	}
	r.deleteLocked(id)
	r.renumberLocked()
	r.pending = append(r.pending, Event{Kind: EventRemoved, IDs: []string{id}})
	src := f.Source
	r.mu.Unlock()

	releaseSource(src)
	fmt.Printf("[Registry] removed %s (id %s)\n", f.DisplayName, id[:8])
	r.flush()
	return nil
}

// ClearQueue removes every pending, errored and completed file and returns
// how many were removed. Files in flight are kept.
func (r *Registry) ClearQueue() int {
	r.mu.Lock()
	var removed []string
	var sources []models.Source
	for _, id := range r.order {
		f := r.files[id]
		if f.Status.CanRemove() {
			removed = append(removed, id)
			sources = append(sources, f.Source)
		}
	}
	for _, id := range removed {
		r.deleteLocked(id)
	}
	if len(removed) > 0 {
		r.renumberLocked()
		r.pending = append(r.pending, Event{Kind: EventCleared, IDs: removed})
	}
	r.mu.Unlock()

	for _, src := range sources {
		releaseSource(src)
	}
	if len(removed) > 0 {
		fmt.Printf("[Registry] queue cleared (%d files removed)\n", len(removed))
		r.flush()
	}
	return len(removed)
}

// UpdateParameters merges patch into the file's parameters.
func (r *Registry) UpdateParameters(id string, patch models.ParameterPatch) (models.TrackedFile, error) {
	r.mu.Lock()
	f, ok := r.files[id]
	if !ok {
		r.mu.Unlock()
		return models.TrackedFile{}, ErrNotFound
	}
	patch.Apply(&f.Parameters)
	f.UpdatedAt = r.now()
	r.pending = append(r.pending, Event{Kind: EventUpdated, IDs: []string{id}})
	out := *f
	r.mu.Unlock()

	r.flush()
	return out, nil
}

// Update applies fn to every tracked file in ids as a single atomic mutation.
// fn reports whether it changed the file. Ids that are no longer tracked are
// skipped silently. The file id and arrival number cannot be changed by fn,
// and leaving the error status clears LastError. Update returns the ids that
// changed.
func (r *Registry) Update(ids []string, fn func(f *models.TrackedFile) bool) []string {
	r.mu.Lock()
	var changed []string
	now := r.now()
	for _, id := range ids {
		f, ok := r.files[id]
		if !ok {
			continue
		}
		before := f.Status
		arrival := f.Parameters.ArrivalNumber
		if !fn(f) {
			continue
		}
		f.ID = id
		f.Parameters.ArrivalNumber = arrival
		if f.Status != before && f.Status != models.FileStatusError {
			f.LastError = ""
		}
		f.UpdatedAt = now
		changed = append(changed, id)
	}
	if len(changed) > 0 {
		r.pending = append(r.pending, Event{Kind: EventUpdated, IDs: changed})
	}
	r.mu.Unlock()

	if len(changed) > 0 {
		r.flush()
	}
	return changed
}

// Transition moves a single file to status to, validating the lifecycle.
// Moving back to pending clears the outcome of the previous attempt.
func (r *Registry) Transition(id string, to models.FileStatus) (models.TrackedFile, error) {
	var invalid error
	found := false
	changed := r.Update([]string{id}, func(f *models.TrackedFile) bool {
		found = true
		if !f.Status.CanTransition(to) {
			invalid = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.Status, to)
			return false
		}
		f.Status = to
		f.Progress = 0
		if to == models.FileStatusPending {
			f.LastError = ""
			f.FinalFilename = ""
			f.RequestID = ""
			f.BatchID = ""
		}
		return true
	})
	if !found {
		return models.TrackedFile{}, ErrNotFound
	}
	if invalid != nil {
		return models.TrackedFile{}, invalid
	}
	f, _ := r.Get(changed[0])
	return f, nil
}

// ReleaseSources drops the payload handles of the given files, freeing any
// spooled blob. Called once the backend owns the durable copy.
func (r *Registry) ReleaseSources(ids []string) {
	r.mu.Lock()
	var sources []models.Source
	for _, id := range ids {
		if f, ok := r.files[id]; ok && f.Source != nil {
			sources = append(sources, f.Source)
			f.Source = nil
		}
	}
	r.mu.Unlock()

	for _, src := range sources {
		releaseSource(src)
	}
}

// Get returns a copy of the file with the given id.
func (r *Registry) Get(id string) (models.TrackedFile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return models.TrackedFile{}, false
	}
	return *f, true
}

// Has reports whether id is still tracked.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.files[id]
	return ok
}

// List returns copies of the tracked files in arrival order, optionally
// restricted to the given statuses.
func (r *Registry) List(statuses ...models.FileStatus) []models.TrackedFile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.TrackedFile, 0, len(r.order))
	for _, id := range r.order {
		f := r.files[id]
		if len(statuses) > 0 && !containsStatus(statuses, f.Status) {
			continue
		}
		out = append(out, *f)
	}
	return out
}

// IDs returns the ids of the files in the given statuses, in arrival order.
func (r *Registry) IDs(statuses ...models.FileStatus) []string {
	files := r.List(statuses...)
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}

// Stats counts tracked files per status.
func (r *Registry) Stats() models.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s models.RegistryStats
	for _, f := range r.files {
		s.Count(f.Status)
	}
	return s
}

// Len returns the number of tracked files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

func (r *Registry) deleteLocked(id string) {
	delete(r.files, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// renumberLocked assigns dense arrival numbers 1..N in insertion order.
func (r *Registry) renumberLocked() {
	for i, id := range r.order {
		r.files[id].Parameters.ArrivalNumber = i + 1
	}
}

func (r *Registry) flush() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	events := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(events) == 0 {
		return
	}

	r.subMu.Lock()
	subs := make([]func(Event), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func releaseSource(src models.Source) {
	if rel, ok := src.(models.Releaser); ok {
		if err := rel.Release(); err != nil {
			fmt.Printf("[Registry] Warning: failed to release source: %v\n", err)
		}
	}
}

func containsStatus(list []models.FileStatus, s models.FileStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func normalizeMime(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
