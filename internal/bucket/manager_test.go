package bucket

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/functionland/fula-gateway/internal/blockstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	pointer := filepath.Join(t.TempDir(), "registry.cid")
	return NewManager(blockstore.NewMemoryStore(), pointer)
}

func TestCreateAndListBuckets(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateBucketForUser(ctx, "userA", "photos"); err != nil {
		t.Fatalf("CreateBucketForUser failed: %v", err)
	}
	if _, err := m.CreateBucketForUser(ctx, "userA", "docs"); err != nil {
		t.Fatalf("CreateBucketForUser failed: %v", err)
	}

	infos, err := m.ListBucketsForUser(ctx, "userA")
	if err != nil {
		t.Fatalf("ListBucketsForUser failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d buckets, want 2", len(infos))
	}
	if infos[0].Name != "docs" || infos[1].Name != "photos" {
		t.Errorf("buckets not sorted by name: %v", infos)
	}

	if !m.BucketExistsForUser("userA", "photos") {
		t.Error("photos should exist for userA")
	}
	if m.BucketExistsForUser("userB", "photos") {
		t.Error("photos should not exist for userB")
	}
}

func TestCreateBucketErrors(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateBucketForUser(ctx, "u", "dup"); err != nil {
		t.Fatalf("CreateBucketForUser failed: %v", err)
	}
	if _, err := m.CreateBucketForUser(ctx, "u", "dup"); err != ErrBucketAlreadyExists {
		t.Errorf("duplicate create: got %v, want ErrBucketAlreadyExists", err)
	}
	if _, err := m.CreateBucketForUser(ctx, "u", "UPPER"); err != ErrInvalidBucketName {
		t.Errorf("invalid name: got %v, want ErrInvalidBucketName", err)
	}
	if _, err := m.CreateBucketForUser(ctx, "u", "ab"); err != ErrInvalidBucketName {
		t.Errorf("short name: got %v, want ErrInvalidBucketName", err)
	}
}

func TestDeleteBucket(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.DeleteBucketForUser(ctx, "u", "missing"); err != ErrBucketNotFound {
		t.Errorf("delete missing: got %v, want ErrBucketNotFound", err)
	}

	if _, err := m.CreateBucketForUser(ctx, "u", "full"); err != nil {
		t.Fatalf("CreateBucketForUser failed: %v", err)
	}
	b, err := m.OpenBucketForUser(ctx, "u", "full")
	if err != nil {
		t.Fatalf("OpenBucketForUser failed: %v", err)
	}
	if err := b.PutObject(ctx, "a.txt", ObjectMeta{Size: 1, ETag: "e", CID: "c"}); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	if err := m.DeleteBucketForUser(ctx, "u", "full"); err != ErrBucketNotEmpty {
		t.Errorf("delete non-empty: got %v, want ErrBucketNotEmpty", err)
	}

	if _, err := b.DeleteObject(ctx, "a.txt"); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	if err := m.DeleteBucketForUser(ctx, "u", "full"); err != nil {
		t.Errorf("delete empty bucket failed: %v", err)
	}
}

func TestBucketCap(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < maxBucketsPerUser; i++ {
		name := "bucket-" + string(rune('a'+i%26)) + "-" + string(rune('a'+i/26))
		if _, err := m.CreateBucketForUser(ctx, "u", name); err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}
	if _, err := m.CreateBucketForUser(ctx, "u", "one-too-many"); err != ErrTooManyBuckets {
		t.Errorf("over cap: got %v, want ErrTooManyBuckets", err)
	}
}

func TestObjectLifecycleAndFlush(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateBucketForUser(ctx, "u", "data"); err != nil {
		t.Fatalf("CreateBucketForUser failed: %v", err)
	}
	b, err := m.OpenBucketForUser(ctx, "u", "data")
	if err != nil {
		t.Fatalf("OpenBucketForUser failed: %v", err)
	}

	meta := ObjectMeta{
		Size:         5,
		ETag:         "bafketag",
		CID:          "bafketag",
		ContentType:  "text/plain",
		LastModified: time.Now().UTC(),
	}
	if err := b.PutObject(ctx, "hello.txt", meta); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	got, ok, err := b.GetObject(ctx, "hello.txt")
	if err != nil || !ok {
		t.Fatalf("GetObject = %v, ok=%v", err, ok)
	}
	if got.CID != meta.CID || got.Size != meta.Size {
		t.Errorf("GetObject = %+v, want %+v", got, meta)
	}

	cid, err := b.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if cid == "" {
		t.Fatal("Flush returned empty CID")
	}

	cid2, err := b.Flush(ctx)
	if err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}
	if cid2 != cid {
		t.Errorf("flush of unchanged bucket produced different root: %s vs %s", cid2, cid)
	}
}

func TestPersistAndReloadRegistry(t *testing.T) {
	store := blockstore.NewMemoryStore()
	pointer := filepath.Join(t.TempDir(), "registry.cid")
	m := NewManager(store, pointer)
	ctx := context.Background()

	if _, err := m.CreateBucketForUser(ctx, "u", "persisted"); err != nil {
		t.Fatalf("CreateBucketForUser failed: %v", err)
	}
	b, err := m.OpenBucketForUser(ctx, "u", "persisted")
	if err != nil {
		t.Fatalf("OpenBucketForUser failed: %v", err)
	}
	if err := b.PutObject(ctx, "k", ObjectMeta{Size: 1, ETag: "e", CID: "c"}); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if _, err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := m.PersistRegistry(ctx); err != nil {
		t.Fatalf("PersistRegistry failed: %v", err)
	}

	// Fresh manager over the same store and pointer sees the same state.
	m2 := NewManager(store, pointer)
	users, err := m2.LoadRegistry(ctx)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if users != 1 {
		t.Errorf("loaded %d users, want 1", users)
	}
	b2, err := m2.OpenBucketForUser(ctx, "u", "persisted")
	if err != nil {
		t.Fatalf("OpenBucketForUser after reload failed: %v", err)
	}
	meta, ok, err := b2.GetObject(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("GetObject after reload = %v, ok=%v", err, ok)
	}
	if meta.CID != "c" {
		t.Errorf("reloaded object CID = %q, want c", meta.CID)
	}
}

func TestLoadRegistryMissingPointerFile(t *testing.T) {
	m := newTestManager(t)
	users, err := m.LoadRegistry(context.Background())
	if err != nil {
		t.Fatalf("LoadRegistry with missing pointer failed: %v", err)
	}
	if users != 0 {
		t.Errorf("loaded %d users from missing pointer, want 0", users)
	}
}

func TestLoadRegistryBadCID(t *testing.T) {
	pointer := filepath.Join(t.TempDir(), "registry.cid")
	if err := os.WriteFile(pointer, []byte("bafybadpointer\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(blockstore.NewMemoryStore(), pointer)
	if _, err := m.LoadRegistry(context.Background()); err == nil {
		t.Error("expected error loading registry from dangling CID")
	}
}

func TestValidBucketName(t *testing.T) {
	valid := []string{"abc", "my-bucket", "a.b.c", "bucket123"}
	for _, name := range valid {
		if !ValidBucketName(name) {
			t.Errorf("ValidBucketName(%q) = false, want true", name)
		}
	}
	invalid := []string{"ab", "Upper", "-leading", "trailing-", "has_underscore", "has space", ""}
	for _, name := range invalid {
		if ValidBucketName(name) {
			t.Errorf("ValidBucketName(%q) = true, want false", name)
		}
	}
}

func TestConcurrentPutAndFlush(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateBucketForUser(ctx, "u", "busy"); err != nil {
		t.Fatalf("CreateBucketForUser failed: %v", err)
	}
	b, err := m.OpenBucketForUser(ctx, "u", "busy")
	if err != nil {
		t.Fatalf("OpenBucketForUser failed: %v", err)
	}

	// Writers mutate the object map while Flush serializes it; the snapshot
	// taken under the lock must keep the two from sharing a map.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("w%d/k%d", g, i)
				if err := b.PutObject(ctx, key, ObjectMeta{Size: 1, ETag: key, CID: key}); err != nil {
					t.Errorf("PutObject failed: %v", err)
					return
				}
			}
		}(g)
	}
	for i := 0; i < 20; i++ {
		if _, err := b.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if err := m.PersistRegistry(ctx); err != nil {
			t.Fatalf("PersistRegistry failed: %v", err)
		}
	}
	wg.Wait()

	if _, err := b.Flush(ctx); err != nil {
		t.Fatalf("final Flush failed: %v", err)
	}
	entries, err := b.ListObjects(ctx)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(entries) != 200 {
		t.Errorf("expected 200 objects after concurrent writes, got %d", len(entries))
	}
}
