package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/functionland/fula-gateway/internal/blockstore"
)

// maxBucketsPerUser caps how many buckets one user namespace may hold.
const maxBucketsPerUser = 100

// Sentinel errors mapped to S3 error codes at the handler boundary.
var (
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrBucketAlreadyExists = errors.New("bucket already exists")
	ErrBucketNotEmpty      = errors.New("bucket not empty")
	ErrInvalidBucketName   = errors.New("invalid bucket name")
	ErrTooManyBuckets      = errors.New("too many buckets")
)

// Manager owns the registry document and the bucket documents hanging off
// it. The registry root CID is persisted to a pointer file on disk so other
// processes (sync, pinning) can follow the graph; an external writer moving
// that pointer is picked up by the watcher.
type Manager struct {
	store       blockstore.BlockStore
	pointerPath string

	mu    sync.Mutex
	users map[string]map[string]string // hashed user -> bucket name -> root CID
	docs  map[string]*bucketDoc        // "user/bucket" -> loaded document
	// lastSeen is the pointer CID this process last loaded or wrote, so the
	// watcher can tell external updates from our own.
	lastSeen string
}

// NewManager creates a Manager over the given block store. pointerPath is
// the registry pointer file; it may not exist yet.
func NewManager(store blockstore.BlockStore, pointerPath string) *Manager {
	return &Manager{
		store:       store,
		pointerPath: pointerPath,
		users:       make(map[string]map[string]string),
		docs:        make(map[string]*bucketDoc),
	}
}

// ReadPointerFile returns the trimmed CID in the pointer file, or "" if the
// file does not exist or holds only whitespace.
func (m *Manager) ReadPointerFile() (string, error) {
	data, err := os.ReadFile(m.pointerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// LoadRegistry reads the pointer file and loads the registry document it
// names, replacing any in-memory state. A missing or empty pointer file
// starts an empty registry. Returns the number of user namespaces loaded.
func (m *Manager) LoadRegistry(ctx context.Context) (int, error) {
	cid, err := m.ReadPointerFile()
	if err != nil {
		return 0, fmt.Errorf("reading registry pointer file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cid == "" {
		m.users = make(map[string]map[string]string)
		m.docs = make(map[string]*bucketDoc)
		m.lastSeen = ""
		return 0, nil
	}

	raw, err := m.store.GetBlock(ctx, cid)
	if err != nil {
		return 0, fmt.Errorf("fetching registry %s: %w", cid, err)
	}

	var doc registryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("parsing registry %s: %w", cid, err)
	}
	if doc.Type != registryDocType {
		return 0, fmt.Errorf("registry %s has unexpected type %q", cid, doc.Type)
	}

	if doc.Users == nil {
		doc.Users = make(map[string]map[string]string)
	}
	m.users = doc.Users
	m.docs = make(map[string]*bucketDoc)
	m.lastSeen = cid
	return len(m.users), nil
}

// PersistRegistry writes the registry document to the block store and
// atomically updates the pointer file with its CID.
func (m *Manager) PersistRegistry(ctx context.Context) error {
	m.mu.Lock()
	users := make(map[string]map[string]string, len(m.users))
	for user, buckets := range m.users {
		cp := make(map[string]string, len(buckets))
		for name, cid := range buckets {
			cp[name] = cid
		}
		users[user] = cp
	}
	m.mu.Unlock()

	doc := registryDoc{Type: registryDocType, Users: users}

	cid, err := m.store.PutIPLD(ctx, doc)
	if err != nil {
		return fmt.Errorf("storing registry: %w", err)
	}

	if err := writeFileAtomic(m.pointerPath, []byte(cid+"\n")); err != nil {
		return fmt.Errorf("writing registry pointer file: %w", err)
	}

	m.mu.Lock()
	m.lastSeen = cid
	m.mu.Unlock()
	return nil
}

// Store returns the underlying block store.
func (m *Manager) Store() blockstore.BlockStore {
	return m.store
}

// CreateBucketForUser creates an empty bucket in the user's namespace and
// returns its creation time.
func (m *Manager) CreateBucketForUser(ctx context.Context, user, name string) (time.Time, error) {
	if !ValidBucketName(name) {
		return time.Time{}, ErrInvalidBucketName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	buckets := m.users[user]
	if buckets == nil {
		buckets = make(map[string]string)
		m.users[user] = buckets
	}
	if _, exists := buckets[name]; exists {
		return time.Time{}, ErrBucketAlreadyExists
	}
	if len(buckets) >= maxBucketsPerUser {
		return time.Time{}, ErrTooManyBuckets
	}

	doc := &bucketDoc{
		Type:      bucketDocType,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Owner:     user,
		Objects:   make(map[string]ObjectMeta),
	}
	cid, err := m.store.PutIPLD(ctx, doc)
	if err != nil {
		return time.Time{}, fmt.Errorf("storing bucket document: %w", err)
	}

	buckets[name] = cid
	m.docs[docKey(user, name)] = doc
	return doc.CreatedAt, nil
}

// DeleteBucketForUser removes an empty bucket from the user's namespace.
func (m *Manager) DeleteBucketForUser(ctx context.Context, user, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets := m.users[user]
	if _, exists := buckets[name]; !exists {
		return ErrBucketNotFound
	}

	doc, err := m.loadDocLocked(ctx, user, name)
	if err != nil {
		return err
	}
	if doc.liveObjectCount() > 0 {
		return ErrBucketNotEmpty
	}

	delete(buckets, name)
	if len(buckets) == 0 {
		delete(m.users, user)
	}
	delete(m.docs, docKey(user, name))
	return nil
}

// BucketExistsForUser reports whether the bucket exists in the user's
// namespace.
func (m *Manager) BucketExistsForUser(user, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[user][name]
	return ok
}

// ListBucketsForUser returns the user's buckets sorted by name.
func (m *Manager) ListBucketsForUser(ctx context.Context, user string) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.users[user]))
	for name := range m.users[user] {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		doc, err := m.loadDocLocked(ctx, user, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{Name: name, CreatedAt: doc.CreatedAt})
	}
	return infos, nil
}

// OpenBucketForUser returns a handle on the named bucket.
func (m *Manager) OpenBucketForUser(ctx context.Context, user, name string) (*Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user][name]; !exists {
		return nil, ErrBucketNotFound
	}
	if _, err := m.loadDocLocked(ctx, user, name); err != nil {
		return nil, err
	}
	return &Bucket{m: m, user: user, name: name}, nil
}

// loadDocLocked returns the bucket document, fetching it from the block
// store on first access. The caller must hold m.mu.
func (m *Manager) loadDocLocked(ctx context.Context, user, name string) (*bucketDoc, error) {
	key := docKey(user, name)
	if doc, ok := m.docs[key]; ok {
		return doc, nil
	}

	cid, exists := m.users[user][name]
	if !exists {
		return nil, ErrBucketNotFound
	}

	raw, err := m.store.GetBlock(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("fetching bucket %s: %w", cid, err)
	}
	var doc bucketDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing bucket %s: %w", cid, err)
	}
	if doc.Objects == nil {
		doc.Objects = make(map[string]ObjectMeta)
	}
	m.docs[key] = &doc
	return &doc, nil
}

// Bucket is a handle on one bucket in one user namespace. All operations go
// through the Manager's lock; mutations only reach the block store on Flush.
type Bucket struct {
	m    *Manager
	user string
	name string
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// GetObject returns the metadata for key, if present.
func (b *Bucket) GetObject(ctx context.Context, key string) (ObjectMeta, bool, error) {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	doc, err := b.m.loadDocLocked(ctx, b.user, b.name)
	if err != nil {
		return ObjectMeta{}, false, err
	}
	meta, ok := doc.Objects[key]
	return meta, ok, nil
}

// PutObject sets the metadata for key.
func (b *Bucket) PutObject(ctx context.Context, key string, meta ObjectMeta) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	doc, err := b.m.loadDocLocked(ctx, b.user, b.name)
	if err != nil {
		return err
	}
	doc.Objects[key] = meta
	return nil
}

// DeleteObject removes key and reports whether it was present.
func (b *Bucket) DeleteObject(ctx context.Context, key string) (bool, error) {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	doc, err := b.m.loadDocLocked(ctx, b.user, b.name)
	if err != nil {
		return false, err
	}
	if _, ok := doc.Objects[key]; !ok {
		return false, nil
	}
	delete(doc.Objects, key)
	return true, nil
}

// ListObjects returns all objects sorted by key.
func (b *Bucket) ListObjects(ctx context.Context) ([]Entry, error) {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	doc, err := b.m.loadDocLocked(ctx, b.user, b.name)
	if err != nil {
		return nil, err
	}
	return doc.sortedEntries(), nil
}

// CreatedAt returns the bucket's creation time.
func (b *Bucket) CreatedAt(ctx context.Context) (time.Time, error) {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	doc, err := b.m.loadDocLocked(ctx, b.user, b.name)
	if err != nil {
		return time.Time{}, err
	}
	return doc.CreatedAt, nil
}

// Flush writes the bucket document to the block store, points the registry
// at the new root, and returns the bucket's new root CID. The registry
// pointer file is not touched; callers follow up with PersistRegistry.
func (b *Bucket) Flush(ctx context.Context) (string, error) {
	b.m.mu.Lock()
	doc, err := b.m.loadDocLocked(ctx, b.user, b.name)
	if err != nil {
		b.m.mu.Unlock()
		return "", err
	}
	// Copy the object map before releasing the lock: PutIPLD marshals the
	// snapshot, and a shared map would race with concurrent mutations.
	snapshot := *doc
	snapshot.Objects = make(map[string]ObjectMeta, len(doc.Objects))
	for k, v := range doc.Objects {
		snapshot.Objects[k] = v
	}
	b.m.mu.Unlock()

	cid, err := b.m.store.PutIPLD(ctx, snapshot)
	if err != nil {
		return "", fmt.Errorf("storing bucket document: %w", err)
	}

	b.m.mu.Lock()
	if buckets, ok := b.m.users[b.user]; ok {
		buckets[b.name] = cid
	}
	b.m.mu.Unlock()
	return cid, nil
}

// ValidBucketName applies the S3 naming rules the gateway enforces:
// 3-63 characters, lowercase letters, digits, dots, and hyphens, starting
// and ending with a letter or digit.
func ValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '.':
			if i == 0 || i == len(name)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func docKey(user, name string) string {
	return user + "/" + name
}

// writeFileAtomic writes data to path via a temp file and rename so readers
// never observe a partial pointer.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".registry-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
