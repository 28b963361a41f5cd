package handlers

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/functionland/fula-gateway/internal/auth"
	"github.com/functionland/fula-gateway/internal/blockstore"
	"github.com/functionland/fula-gateway/internal/bucket"
	"github.com/functionland/fula-gateway/internal/xmlutil"
)

func TestListBuckets(t *testing.T) {
	store := blockstore.NewMemoryStore()
	buckets := bucket.NewManager(store, t.TempDir()+"/registry.cid")
	ctx := context.Background()
	for _, name := range []string{"zebra", "alpha", "middle"} {
		if _, err := buckets.CreateBucketForUser(ctx, auth.LocalNamespace, name); err != nil {
			t.Fatal(err)
		}
	}
	h := NewServiceHandler(buckets)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	h.ListBuckets(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", rec.Code, rec.Body.String())
	}

	var result xmlutil.ListAllMyBucketsResult
	if err := xml.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"alpha", "middle", "zebra"}
	if len(result.Buckets) != len(want) {
		t.Fatalf("got %d buckets, want %d", len(result.Buckets), len(want))
	}
	for i, b := range result.Buckets {
		if b.Name != want[i] {
			t.Errorf("Buckets[%d].Name = %q, want %q", i, b.Name, want[i])
		}
		if b.CreationDate == "" {
			t.Errorf("Buckets[%d]: empty CreationDate", i)
		}
	}
	if result.Owner.ID != auth.LocalNamespace {
		t.Errorf("Owner.ID = %q, want %q", result.Owner.ID, auth.LocalNamespace)
	}
}

func TestListBucketsEmpty(t *testing.T) {
	store := blockstore.NewMemoryStore()
	buckets := bucket.NewManager(store, t.TempDir()+"/registry.cid")
	h := NewServiceHandler(buckets)

	rec := httptest.NewRecorder()
	h.ListBuckets(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var result xmlutil.ListAllMyBucketsResult
	if err := xml.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Buckets) != 0 {
		t.Errorf("got %d buckets, want 0", len(result.Buckets))
	}
}

func TestHealthCheck(t *testing.T) {
	h := NewServiceHandler(nil)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest("HEAD", "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
