package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/functionland/fula-gateway/internal/blockstore"
	"github.com/functionland/fula-gateway/internal/bucket"
	s3err "github.com/functionland/fula-gateway/internal/errors"
	"github.com/functionland/fula-gateway/internal/xmlutil"
)

// ObjectHandler handles object-level S3 operations. Object bytes go to the
// block store; metadata goes to the caller's bucket document, whose new
// root is flushed, persisted, and pinned after every mutation.
type ObjectHandler struct {
	buckets *bucket.Manager
	store   blockstore.BlockStore
}

// NewObjectHandler creates an ObjectHandler.
func NewObjectHandler(buckets *bucket.Manager, store blockstore.BlockStore) *ObjectHandler {
	return &ObjectHandler{buckets: buckets, store: store}
}

// PutObject handles PUT /{bucket}/{key}. The object's ETag is its block
// CID, also exposed via the X-Fula-Content-Cid header.
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	user := requestUser(r)
	ctx := r.Context()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, r, s3err.ErrInvalidRequest.WithMessage("reading request body: %v", err))
		return
	}
	body := MaybeDecodeChunked(r, raw)

	cid, err := h.store.PutBlock(ctx, body)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}

	meta := bucket.ObjectMeta{
		Size:         int64(len(body)),
		ETag:         cid,
		CID:          cid,
		ContentType:  r.Header.Get("Content-Type"),
		LastModified: time.Now().UTC(),
		Owner:        user,
		UserMetadata: extractUserMetadata(r),
	}

	b, err := h.buckets.OpenBucketForUser(ctx, user, bucketName)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	if err := b.PutObject(ctx, key, meta); err != nil {
		writeS3Error(w, r, err)
		return
	}
	rootCID, err := b.Flush(ctx)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	persistRegistry(ctx, h.buckets, "put_object")
	pinBucketRoot(h.store, rootCID, bucketName)

	w.Header().Set("ETag", xmlutil.QuoteETag(cid))
	w.Header().Set("X-Fula-Content-Cid", cid)
	w.WriteHeader(http.StatusOK)
}

// GetObject handles GET /{bucket}/{key} with Range and conditional request
// support.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	user := requestUser(r)
	ctx := r.Context()

	b, err := h.buckets.OpenBucketForUser(ctx, user, bucketName)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	meta, ok, err := b.GetObject(ctx, key)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	if !ok || meta.DeleteMarker {
		writeS3Error(w, r, s3err.ErrNoSuchKey)
		return
	}

	etag := xmlutil.QuoteETag(meta.ETag)
	lastModified := xmlutil.FormatTimeHTTP(meta.LastModified)

	// An etag miss falls through to the date check, so either condition
	// alone can produce 304.
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		if inm == etag || inm == "*" {
			w.Header().Set("ETag", etag)
			w.Header().Set("Last-Modified", lastModified)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if since, perr := http.ParseTime(ims); perr == nil {
			// Header granularity is one second.
			if !meta.LastModified.Truncate(time.Second).After(since) {
				w.Header().Set("ETag", etag)
				w.Header().Set("Last-Modified", lastModified)
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	data, err := resolveObjectData(ctx, h.store, meta)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	totalSize := int64(len(data))

	status := http.StatusOK
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		start, end, rerr := parseRange(rangeHeader, totalSize)
		if rerr != nil {
			writeS3Error(w, r, s3err.ErrInvalidRange.WithMessage("Requested range not satisfiable"))
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, totalSize))
		data = data[start : end+1]
		status = http.StatusPartialContent
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Last-Modified", lastModified)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Fula-Content-Cid", meta.CID)
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Header().Set("x-amz-version-id", "null")
	setUserMetadataHeaders(w, meta.UserMetadata)

	w.WriteHeader(status)
	w.Write(data)
}

// HeadObject handles HEAD /{bucket}/{key}: the GET headers without a body.
func (h *ObjectHandler) HeadObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	user := requestUser(r)
	ctx := r.Context()

	b, err := h.buckets.OpenBucketForUser(ctx, user, bucketName)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	meta, ok, err := b.GetObject(ctx, key)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	if !ok || meta.DeleteMarker {
		writeS3Error(w, r, s3err.ErrNoSuchKey)
		return
	}

	w.Header().Set("ETag", xmlutil.QuoteETag(meta.ETag))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", meta.Size))
	w.Header().Set("Last-Modified", xmlutil.FormatTimeHTTP(meta.LastModified))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Fula-Content-Cid", meta.CID)
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	setUserMetadataHeaders(w, meta.UserMetadata)
	w.WriteHeader(http.StatusOK)
}

// DeleteObject handles DELETE /{bucket}/{key}. Deleting a missing key is
// still a 204; only the bucket must exist.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	user := requestUser(r)
	ctx := r.Context()

	b, err := h.buckets.OpenBucketForUser(ctx, user, bucketName)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	removed, err := b.DeleteObject(ctx, key)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	if removed {
		if _, err := b.Flush(ctx); err != nil {
			writeS3Error(w, r, err)
			return
		}
		persistRegistry(ctx, h.buckets, "delete_object")
	}
	w.WriteHeader(http.StatusNoContent)
}

// CopyObject handles PUT /{bucket}/{key} with x-amz-copy-source. The copy
// reuses the source CID: content addressing makes the data copy free.
func (h *ObjectHandler) CopyObject(w http.ResponseWriter, r *http.Request, destBucket, destKey string) {
	user := requestUser(r)
	ctx := r.Context()

	srcBucket, srcKey, ok := parseCopySource(r.Header.Get("x-amz-copy-source"))
	if !ok {
		writeS3Error(w, r, s3err.ErrInvalidArgument.WithMessage("Invalid copy source format"))
		return
	}

	src, err := h.buckets.OpenBucketForUser(ctx, user, srcBucket)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	meta, found, err := src.GetObject(ctx, srcKey)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	if !found || meta.DeleteMarker {
		writeS3Error(w, r, s3err.ErrNoSuchKey.WithMessage("Source object not found"))
		return
	}

	meta.LastModified = time.Now().UTC()
	meta.Owner = user

	dst, err := h.buckets.OpenBucketForUser(ctx, user, destBucket)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}
	if err := dst.PutObject(ctx, destKey, meta); err != nil {
		writeS3Error(w, r, err)
		return
	}
	if _, err := dst.Flush(ctx); err != nil {
		writeS3Error(w, r, err)
		return
	}
	persistRegistry(ctx, h.buckets, "copy_object")

	xmlutil.RenderCopyObject(w, &xmlutil.CopyObjectResult{
		LastModified: xmlutil.FormatTimeS3(meta.LastModified),
		ETag:         xmlutil.QuoteETag(meta.ETag),
	})
}
