// Package bucket implements the gateway's bucket namespace: a per-user
// registry of buckets rooted at a single CID, with each bucket stored as a
// dag-json document mapping object keys to content-addressed metadata.
package bucket

import (
	"sort"
	"time"
)

// Document type markers stored in the graph so external readers can
// identify nodes without context.
const (
	registryDocType = "fula-bucket-registry"
	bucketDocType   = "fula-bucket"
)

// ObjectMeta describes one object in a bucket. The object bytes live in the
// block store under CID; everything else is bookkeeping for the S3 surface.
type ObjectMeta struct {
	Size         int64             `json:"size"`
	ETag         string            `json:"etag"`
	CID          string            `json:"cid"`
	ContentType  string            `json:"content_type,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	DeleteMarker bool              `json:"delete_marker,omitempty"`
	Owner        string            `json:"owner,omitempty"`
	UserMetadata map[string]string `json:"user_metadata,omitempty"`
}

// bucketDoc is the dag-json document for a single bucket.
type bucketDoc struct {
	Type      string                `json:"type"`
	Name      string                `json:"name"`
	CreatedAt time.Time             `json:"created_at"`
	Owner     string                `json:"owner"`
	Objects   map[string]ObjectMeta `json:"objects"`
}

// registryDoc is the dag-json document at the registry root. Users maps a
// hashed user id to that user's buckets, each holding the bucket's current
// root CID.
type registryDoc struct {
	Type  string                       `json:"type"`
	Users map[string]map[string]string `json:"users"`
}

// Info summarizes a bucket for listings.
type Info struct {
	Name      string
	CreatedAt time.Time
}

// Entry pairs an object key with its metadata in a listing.
type Entry struct {
	Key  string
	Meta ObjectMeta
}

// sortedEntries returns the bucket's objects as entries in key order.
func (d *bucketDoc) sortedEntries() []Entry {
	entries := make([]Entry, 0, len(d.Objects))
	for k, m := range d.Objects {
		entries = append(entries, Entry{Key: k, Meta: m})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// liveObjectCount returns the number of objects that are not delete markers.
func (d *bucketDoc) liveObjectCount() int {
	n := 0
	for _, m := range d.Objects {
		if !m.DeleteMarker {
			n++
		}
	}
	return n
}
