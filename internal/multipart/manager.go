// Package multipart tracks in-progress multipart uploads. State is held in
// memory only: part data is already safe in the block store, and an upload
// that is never completed just expires.
package multipart

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultExpiry is how long an upload may sit without completion before the
// sweeper discards it.
const DefaultExpiry = 24 * time.Hour

// Part is one uploaded part of a multipart upload. ETag equals the part's
// block CID.
type Part struct {
	Number       int
	ETag         string
	Size         int64
	CID          string
	LastModified time.Time
}

// Upload is one in-progress multipart upload.
type Upload struct {
	ID          string
	Bucket      string
	Key         string
	Owner       string
	ContentType string
	Metadata    map[string]string
	Initiated   time.Time

	parts map[int]Part
}

// Parts returns the upload's parts sorted by part number.
func (u *Upload) Parts() []Part {
	parts := make([]Part, 0, len(u.parts))
	for _, p := range u.parts {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts
}

// Manager holds all in-progress uploads, keyed by upload ID.
type Manager struct {
	mu      sync.RWMutex
	uploads map[string]*Upload
}

// NewManager creates an empty upload manager.
func NewManager() *Manager {
	return &Manager{uploads: make(map[string]*Upload)}
}

// Create registers a new upload and returns it. The upload ID is a fresh
// UUID v4.
func (m *Manager) Create(bucket, key, owner, contentType string, metadata map[string]string) *Upload {
	u := &Upload{
		ID:          uuid.NewString(),
		Bucket:      bucket,
		Key:         key,
		Owner:       owner,
		ContentType: contentType,
		Metadata:    metadata,
		Initiated:   time.Now().UTC(),
		parts:       make(map[int]Part),
	}

	m.mu.Lock()
	m.uploads[u.ID] = u
	m.mu.Unlock()
	return u
}

// Get returns the upload with the given ID, if it exists. The returned
// snapshot's parts are read via Parts under the manager lock elsewhere;
// callers must not mutate it.
func (m *Manager) Get(uploadID string) (*Upload, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploads[uploadID]
	return u, ok
}

// AddPart records a part on the upload, replacing any previous part with
// the same number. Returns false if the upload does not exist.
func (m *Manager) AddPart(uploadID string, part Part) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[uploadID]
	if !ok {
		return false
	}
	u.parts[part.Number] = part
	return true
}

// Parts returns the upload's parts sorted by number, or false if the upload
// does not exist.
func (m *Manager) Parts(uploadID string) ([]Part, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploads[uploadID]
	if !ok {
		return nil, false
	}
	return u.Parts(), true
}

// Complete atomically removes and returns the upload. A second Complete or
// Abort for the same ID fails, which is what makes concurrent completions
// safe.
func (m *Manager) Complete(uploadID string) (*Upload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[uploadID]
	if !ok {
		return nil, false
	}
	delete(m.uploads, uploadID)
	return u, true
}

// Abort removes the upload. Returns false if it does not exist.
func (m *Manager) Abort(uploadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[uploadID]; !ok {
		return false
	}
	delete(m.uploads, uploadID)
	return true
}

// ListByBucket returns the uploads targeting the given bucket for the given
// owner, sorted by key then upload ID.
func (m *Manager) ListByBucket(owner, bucket string) []*Upload {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var uploads []*Upload
	for _, u := range m.uploads {
		if u.Owner == owner && u.Bucket == bucket {
			uploads = append(uploads, u)
		}
	}
	sort.Slice(uploads, func(i, j int) bool {
		if uploads[i].Key != uploads[j].Key {
			return uploads[i].Key < uploads[j].Key
		}
		return uploads[i].ID < uploads[j].ID
	})
	return uploads
}

// Sweep removes uploads initiated more than maxAge ago and returns how many
// were dropped.
func (m *Manager) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, u := range m.uploads {
		if u.Initiated.Before(cutoff) {
			delete(m.uploads, id)
			removed++
		}
	}
	return removed
}
