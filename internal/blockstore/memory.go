package blockstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"lukechampine.com/blake3"

	"github.com/functionland/fula-gateway/internal/metrics"
)

// MemoryStore implements BlockStore using an in-memory map. It is the
// fallback when no IPFS node is reachable at startup; data does not
// survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[string][]byte
}

// NewMemoryStore creates an empty in-memory block store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blocks: make(map[string][]byte)}
}

// memoryCID derives a stable content address for data. It is not a real
// multiformats CID, but it is deterministic and collision-resistant, which
// is all the in-memory store needs.
func memoryCID(data []byte) string {
	sum := blake3.Sum256(data)
	return "mem-" + hex.EncodeToString(sum[:16])
}

// PutBlock stores data keyed by its derived content address.
func (s *MemoryStore) PutBlock(ctx context.Context, data []byte) (string, error) {
	cid := memoryCID(data)

	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.blocks[cid] = cp
	s.mu.Unlock()

	metrics.BlockPutsTotal.Inc()
	return cid, nil
}

// GetBlock returns a copy of the block addressed by cid.
func (s *MemoryStore) GetBlock(ctx context.Context, cid string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blocks[cid]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("block not found: %s", cid)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// PutIPLD stores doc as JSON so GetBlock round-trips it the same way the
// IPFS store does for dag-json nodes.
func (s *MemoryStore) PutIPLD(ctx context.Context, doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding ipld document: %w", err)
	}
	return s.PutBlock(ctx, data)
}

// Pin is a no-op: nothing garbage-collects the in-memory map.
func (s *MemoryStore) Pin(ctx context.Context, cid, name string) error {
	return nil
}

// Persistent reports false: blocks are lost when the process exits.
func (s *MemoryStore) Persistent() bool {
	return false
}

// Ensure MemoryStore implements BlockStore at compile time.
var _ BlockStore = (*MemoryStore)(nil)
