// Package blockstore defines the interface and implementations for the
// gateway's content-addressed block storage layer.
package blockstore

import "context"

// BlockStore defines the interface for reading and writing content-addressed
// blocks. Implementations provide the underlying mechanism (a Kubo node over
// its HTTP API, or an in-memory map). All methods must be safe for
// concurrent use.
type BlockStore interface {
	// PutBlock stores raw bytes and returns the CID they are addressed by.
	PutBlock(ctx context.Context, data []byte) (cid string, err error)

	// GetBlock retrieves the bytes addressed by cid.
	GetBlock(ctx context.Context, cid string) ([]byte, error)

	// PutIPLD stores doc as a dag-json node and returns its CID. The stored
	// node round-trips through GetBlock as plain JSON.
	PutIPLD(ctx context.Context, doc any) (cid string, err error)

	// Pin marks cid as pinned under the given name so the node's garbage
	// collector keeps it. Implementations without pinning may no-op.
	Pin(ctx context.Context, cid, name string) error

	// Persistent reports whether stored blocks survive a gateway restart.
	Persistent() bool
}
