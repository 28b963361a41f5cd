package blockstore

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	data := []byte("hello, content addressing")
	cid, err := s.PutBlock(ctx, data)
	if err != nil {
		t.Fatalf("PutBlock failed: %v", err)
	}
	if cid == "" {
		t.Fatal("PutBlock returned empty CID")
	}

	got, err := s.GetBlock(ctx, cid)
	if err != nil {
		t.Fatalf("GetBlock failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("GetBlock = %q, want %q", got, data)
	}
}

func TestMemoryStoreDeterministicCID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cid1, err := s.PutBlock(ctx, []byte("same bytes"))
	if err != nil {
		t.Fatalf("PutBlock failed: %v", err)
	}
	cid2, err := s.PutBlock(ctx, []byte("same bytes"))
	if err != nil {
		t.Fatalf("PutBlock failed: %v", err)
	}
	if cid1 != cid2 {
		t.Errorf("same data produced different CIDs: %s vs %s", cid1, cid2)
	}

	cid3, err := s.PutBlock(ctx, []byte("different bytes"))
	if err != nil {
		t.Fatalf("PutBlock failed: %v", err)
	}
	if cid3 == cid1 {
		t.Error("different data produced the same CID")
	}
}

func TestMemoryStoreGetMissingBlock(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetBlock(context.Background(), "mem-doesnotexist"); err == nil {
		t.Error("expected error for missing block, got nil")
	}
}

func TestMemoryStorePutIPLDRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := map[string]any{
		"type":  "fula-multipart-file",
		"parts": []string{"cid-a", "cid-b"},
	}
	cid, err := s.PutIPLD(ctx, doc)
	if err != nil {
		t.Fatalf("PutIPLD failed: %v", err)
	}

	raw, err := s.GetBlock(ctx, cid)
	if err != nil {
		t.Fatalf("GetBlock failed: %v", err)
	}

	var decoded struct {
		Type  string   `json:"type"`
		Parts []string `json:"parts"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("stored IPLD document is not JSON: %v", err)
	}
	if decoded.Type != "fula-multipart-file" {
		t.Errorf("type = %q, want fula-multipart-file", decoded.Type)
	}
	if len(decoded.Parts) != 2 || decoded.Parts[0] != "cid-a" {
		t.Errorf("parts = %v, want [cid-a cid-b]", decoded.Parts)
	}
}

func TestMemoryStoreNotPersistent(t *testing.T) {
	if NewMemoryStore().Persistent() {
		t.Error("memory store must not report persistence")
	}
}
