package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/functionland/fula-gateway/internal/bucket"
	s3err "github.com/functionland/fula-gateway/internal/errors"
	"github.com/functionland/fula-gateway/internal/xmlutil"
)

// maxListKeys caps max-keys for ListObjectsV2.
const maxListKeys = 1000

// BucketHandler handles bucket-level S3 operations against the caller's
// registry namespace.
type BucketHandler struct {
	buckets *bucket.Manager
}

// NewBucketHandler creates a BucketHandler.
func NewBucketHandler(buckets *bucket.Manager) *BucketHandler {
	return &BucketHandler{buckets: buckets}
}

// CreateBucket handles PUT /{bucket}.
func (h *BucketHandler) CreateBucket(w http.ResponseWriter, r *http.Request, bucketName string) {
	user := requestUser(r)
	ctx := r.Context()

	if _, err := h.buckets.CreateBucketForUser(ctx, user, bucketName); err != nil {
		writeS3Error(w, r, err)
		return
	}
	persistRegistry(ctx, h.buckets, "create_bucket")

	w.Header().Set("Location", "/"+bucketName)
	w.WriteHeader(http.StatusOK)
}

// DeleteBucket handles DELETE /{bucket}. The bucket must be empty.
func (h *BucketHandler) DeleteBucket(w http.ResponseWriter, r *http.Request, bucketName string) {
	user := requestUser(r)
	ctx := r.Context()

	if err := h.buckets.DeleteBucketForUser(ctx, user, bucketName); err != nil {
		writeS3Error(w, r, err)
		return
	}
	persistRegistry(ctx, h.buckets, "delete_bucket")
	w.WriteHeader(http.StatusNoContent)
}

// HeadBucket handles HEAD /{bucket}: 200 if it exists, 404 otherwise, no body.
func (h *BucketHandler) HeadBucket(w http.ResponseWriter, r *http.Request, bucketName string) {
	if !h.buckets.BucketExistsForUser(requestUser(r), bucketName) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetBucketLocation handles GET /{bucket}?location. The gateway has a
// single region, reported as the default empty constraint.
func (h *BucketHandler) GetBucketLocation(w http.ResponseWriter, r *http.Request, bucketName string) {
	if !h.buckets.BucketExistsForUser(requestUser(r), bucketName) {
		writeS3Error(w, r, s3err.ErrNoSuchBucket)
		return
	}
	xmlutil.RenderLocationConstraint(w, "")
}

// ListObjects handles GET /{bucket} (ListObjectsV2).
func (h *BucketHandler) ListObjects(w http.ResponseWriter, r *http.Request, bucketName string) {
	user := requestUser(r)
	ctx := r.Context()

	b, err := h.buckets.OpenBucketForUser(ctx, user, bucketName)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	entries, err := b.ListObjects(ctx)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}

	q := r.URL.Query()
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	continuationToken := q.Get("continuation-token")
	startAfter := q.Get("start-after")

	maxKeys := maxListKeys
	if v := q.Get("max-keys"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			maxKeys = n
		}
	}
	if maxKeys < 1 {
		maxKeys = 1
	}
	if maxKeys > maxListKeys {
		maxKeys = maxListKeys
	}

	// start-after and continuation-token share one cursor; start-after wins
	// when both are present.
	cursor := startAfter
	if cursor == "" {
		cursor = continuationToken
	}

	var (
		contents    []xmlutil.Object
		prefixes    []xmlutil.CommonPrefix
		seenPrefix  = make(map[string]bool)
		count       int
		lastKey     string
		isTruncated bool
	)
	for _, e := range entries {
		if e.Meta.DeleteMarker {
			continue
		}
		if cursor != "" && e.Key <= cursor {
			continue
		}
		if prefix != "" && !strings.HasPrefix(e.Key, prefix) {
			continue
		}
		if count >= maxKeys {
			isTruncated = true
			break
		}

		if delimiter != "" {
			rest := e.Key[len(prefix):]
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				cp := prefix + rest[:idx+len(delimiter)]
				if !seenPrefix[cp] {
					seenPrefix[cp] = true
					prefixes = append(prefixes, xmlutil.CommonPrefix{Prefix: cp})
					count++
				}
				lastKey = e.Key
				continue
			}
		}

		contents = append(contents, xmlutil.Object{
			Key:          e.Key,
			LastModified: xmlutil.FormatTimeS3(e.Meta.LastModified),
			ETag:         xmlutil.QuoteETag(e.Meta.ETag),
			Size:         e.Meta.Size,
			StorageClass: "STANDARD",
		})
		count++
		lastKey = e.Key
	}

	result := &xmlutil.ListBucketV2Result{
		Name:              bucketName,
		Prefix:            prefix,
		StartAfter:        startAfter,
		ContinuationToken: continuationToken,
		KeyCount:          count,
		MaxKeys:           maxKeys,
		Delimiter:         delimiter,
		IsTruncated:       isTruncated,
		Contents:          contents,
		CommonPrefixes:    prefixes,
	}
	if isTruncated {
		result.NextContinuationToken = lastKey
	}
	xmlutil.RenderListObjectsV2(w, result)
}
