// Package storage spools file payloads received over HTTP until they are
// handed to the OCR backend.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by Save when the payload exceeds the size limit.
var ErrTooLarge = errors.New("payload exceeds size limit")

// ErrNotFound is returned for an unknown blob id.
var ErrNotFound = errors.New("blob not found")

// Blob describes one spooled payload.
type Blob struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	MimeType string    `json:"mimeType"`
	Size     int64     `json:"size"`
	SavedAt  time.Time `json:"savedAt"`
}

// Spool stores payloads as files named by id in a single directory.
type Spool struct {
	mu    sync.RWMutex
	dir   string
	blobs map[string]*Blob
}

// NewSpool creates the spool directory. Blobs left over from a previous run
// belong to no tracked file and are removed.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	s := &Spool{dir: dir, blobs: make(map[string]*Blob)}
	if n, err := s.purgeDir(); err != nil {
		return nil, err
	} else if n > 0 {
		fmt.Printf("[Spool] removed %d stale blobs from %s\n", n, dir)
	}
	return s, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Save writes r to a new blob. When maxBytes is positive and the payload is
// larger, nothing is kept and ErrTooLarge is returned along with the number
// of bytes seen.
func (s *Spool) Save(name, mimeType string, r io.Reader, maxBytes int64) (*Blob, error) {
	id := uuid.New().String()
	path := filepath.Join(s.dir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	size, err := io.Copy(f, src)
	f.Close()
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}
	if maxBytes > 0 && size > maxBytes {
		os.Remove(path)
		return &Blob{Name: name, MimeType: mimeType, Size: size}, ErrTooLarge
	}

	b := &Blob{
		ID:       id,
		Name:     name,
		MimeType: mimeType,
		Size:     size,
		SavedAt:  time.Now(),
	}

	s.mu.Lock()
	s.blobs[id] = b
	s.mu.Unlock()

	return b, nil
}

// Get returns blob metadata by id.
func (s *Spool) Get(id string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, nil
}

// Open opens a blob for reading.
func (s *Spool) Open(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	_, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return os.Open(filepath.Join(s.dir, id))
}

// List returns the spooled blobs, newest first.
func (s *Spool) List() []*Blob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Blob, 0, len(s.blobs))
	for _, b := range s.blobs {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].SavedAt.After(list[j].SavedAt)
	})
	return list
}

// Len returns the number of spooled blobs.
func (s *Spool) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Usage returns the total size of spooled blobs in bytes.
func (s *Spool) Usage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, b := range s.blobs {
		total += b.Size
	}
	return total
}

// Delete removes a blob. Deleting an unknown id is not an error.
func (s *Spool) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return nil
	}
	path := filepath.Join(s.dir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	delete(s.blobs, id)
	return nil
}

// Purge removes every blob.
func (s *Spool) Purge() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[string]*Blob)
	return s.purgeDir()
}

func (s *Spool) purgeDir() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading spool directory: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			n++
		}
	}
	return n, nil
}

// Source returns a payload handle for a spooled blob.
func (s *Spool) Source(id string) *SpoolSource {
	return &SpoolSource{spool: s, id: id}
}

// SpoolSource is the payload handle of a tracked file whose bytes live in
// the spool. Release deletes the blob.
type SpoolSource struct {
	spool *Spool
	id    string
	once  sync.Once
}

// ID returns the blob id.
func (src *SpoolSource) ID() string {
	return src.id
}

// Open opens the spooled bytes.
func (src *SpoolSource) Open() (io.ReadCloser, error) {
	return src.spool.Open(src.id)
}

// Release deletes the blob. Only the first call has an effect.
func (src *SpoolSource) Release() error {
	var err error
	src.once.Do(func() {
		err = src.spool.Delete(src.id)
	})
	return err
}
