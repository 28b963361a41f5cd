package handlers

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"lukechampine.com/blake3"

	"github.com/functionland/fula-gateway/internal/blockstore"
	"github.com/functionland/fula-gateway/internal/bucket"
	s3err "github.com/functionland/fula-gateway/internal/errors"
	"github.com/functionland/fula-gateway/internal/multipart"
	"github.com/functionland/fula-gateway/internal/xmlutil"
)

// maxPartNumber is the highest part number S3 clients may send.
const maxPartNumber = 10000

// MultipartHandler handles the multipart upload lifecycle. Parts are stored
// as individual blocks as they arrive; completion links them into a
// manifest node so the whole object is one DAG.
type MultipartHandler struct {
	buckets *bucket.Manager
	store   blockstore.BlockStore
	uploads *multipart.Manager
}

// NewMultipartHandler creates a MultipartHandler.
func NewMultipartHandler(buckets *bucket.Manager, store blockstore.BlockStore, uploads *multipart.Manager) *MultipartHandler {
	return &MultipartHandler{buckets: buckets, store: store, uploads: uploads}
}

// InitiateUpload handles POST /{bucket}/{key}?uploads.
func (h *MultipartHandler) InitiateUpload(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	user := requestUser(r)

	if !h.buckets.BucketExistsForUser(user, bucketName) {
		writeS3Error(w, r, s3err.ErrNoSuchBucket)
		return
	}

	u := h.uploads.Create(bucketName, key, user, r.Header.Get("Content-Type"), extractUserMetadata(r))

	xmlutil.RenderInitiateMultipartUpload(w, &xmlutil.InitiateMultipartUploadResult{
		Bucket:   bucketName,
		Key:      key,
		UploadID: u.ID,
	})
}

// UploadPart handles PUT /{bucket}/{key}?partNumber=N&uploadId=X. The part
// ETag is the part's block CID.
func (h *MultipartHandler) UploadPart(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()
	q := r.URL.Query()
	uploadID := q.Get("uploadId")

	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil || partNumber < 1 || partNumber > maxPartNumber {
		writeS3Error(w, r, s3err.ErrInvalidArgument.WithMessage("Part number must be between 1 and 10000"))
		return
	}

	u, ok := h.uploads.Get(uploadID)
	if !ok {
		writeS3Error(w, r, s3err.ErrNoSuchUpload)
		return
	}
	if u.Bucket != bucketName || u.Key != key {
		writeS3Error(w, r, s3err.ErrInvalidArgument.WithMessage("Bucket/key mismatch"))
		return
	}

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

	part := multipart.Part{
		Number:       partNumber,
		ETag:         cid,
		Size:         int64(len(body)),
		CID:          cid,
		LastModified: time.Now().UTC(),
	}
	if !h.uploads.AddPart(uploadID, part) {
		// Upload was completed or aborted between Get and AddPart.
		writeS3Error(w, r, s3err.ErrNoSuchUpload)
		return
	}

	w.Header().Set("ETag", xmlutil.QuoteETag(cid))
	w.WriteHeader(http.StatusOK)
}

// CompleteUpload handles POST /{bucket}/{key}?uploadId=X. The upload is
// removed atomically so a concurrent complete or abort loses cleanly.
func (h *MultipartHandler) CompleteUpload(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	user := requestUser(r)
	ctx := r.Context()
	uploadID := r.URL.Query().Get("uploadId")

	u, ok := h.uploads.Complete(uploadID)
	if !ok {
		writeS3Error(w, r, s3err.ErrNoSuchUpload)
		return
	}
	if u.Bucket != bucketName || u.Key != key {
		writeS3Error(w, r, s3err.ErrInvalidArgument.WithMessage("Bucket/key mismatch"))
		return
	}

	parts := u.Parts()
	if len(parts) == 0 {
		writeS3Error(w, r, s3err.ErrInvalidPart.WithMessage("No parts uploaded"))
		return
	}

	var totalSize int64
	partCIDs := make([]string, 0, len(parts))
	for _, p := range parts {
		partCIDs = append(partCIDs, p.CID)
		totalSize += p.Size
	}

	// A single part needs no manifest: the object is that block.
	finalCID := partCIDs[0]
	if len(partCIDs) > 1 {
		manifest := multipartManifest{Type: multipartManifestType, Size: totalSize, Parts: partCIDs}
		cid, err := h.store.PutIPLD(ctx, manifest)
		if err != nil {
			writeS3Error(w, r, fmt.Errorf("creating multipart manifest: %w", err))
			return
		}
		finalCID = cid
	}

	etag := compositeETag(partCIDs)

	meta := bucket.ObjectMeta{
		Size:         totalSize,
		ETag:         etag,
		CID:          finalCID,
		ContentType:  u.ContentType,
		LastModified: parts[len(parts)-1].LastModified,
		Owner:        user,
		UserMetadata: u.Metadata,
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
	persistRegistry(ctx, h.buckets, "complete_multipart_upload")
	pinBucketRoot(h.store, rootCID, bucketName)

	w.Header().Set("X-Fula-Content-Cid", finalCID)
	xmlutil.RenderCompleteMultipartUpload(w, &xmlutil.CompleteMultipartUploadResult{
		Location: "/" + bucketName + "/" + key,
		Bucket:   bucketName,
		Key:      key,
		ETag:     xmlutil.QuoteETag(etag),
	})
}

// AbortUpload handles DELETE /{bucket}/{key}?uploadId=X. Part blocks are
// left to the block store's garbage collection.
func (h *MultipartHandler) AbortUpload(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	uploadID := r.URL.Query().Get("uploadId")

	u, ok := h.uploads.Get(uploadID)
	if !ok {
		writeS3Error(w, r, s3err.ErrNoSuchUpload)
		return
	}
	if u.Bucket != bucketName || u.Key != key {
		writeS3Error(w, r, s3err.ErrInvalidArgument.WithMessage("Bucket/key mismatch"))
		return
	}
	if !h.uploads.Abort(uploadID) {
		writeS3Error(w, r, s3err.ErrNoSuchUpload)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListParts handles GET /{bucket}/{key}?uploadId=X. Listings are never
// truncated: uploads are bounded by the part number cap.
func (h *MultipartHandler) ListParts(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	uploadID := r.URL.Query().Get("uploadId")

	parts, ok := h.uploads.Parts(uploadID)
	if !ok {
		writeS3Error(w, r, s3err.ErrNoSuchUpload)
		return
	}

	xmlParts := make([]xmlutil.Part, 0, len(parts))
	for _, p := range parts {
		xmlParts = append(xmlParts, xmlutil.Part{
			PartNumber:   p.Number,
			LastModified: xmlutil.FormatTimeS3(p.LastModified),
			ETag:         xmlutil.QuoteETag(p.ETag),
			Size:         p.Size,
		})
	}

	xmlutil.RenderListParts(w, &xmlutil.ListPartsResult{
		Bucket:      bucketName,
		Key:         key,
		UploadID:    uploadID,
		MaxParts:    1000,
		IsTruncated: false,
		Parts:       xmlParts,
	})
}

// ListUploads handles GET /{bucket}?uploads.
func (h *MultipartHandler) ListUploads(w http.ResponseWriter, r *http.Request, bucketName string) {
	user := requestUser(r)

	uploads := h.uploads.ListByBucket(user, bucketName)
	xmlUploads := make([]xmlutil.Upload, 0, len(uploads))
	for _, u := range uploads {
		owner := xmlutil.Owner{ID: u.Owner}
		xmlUploads = append(xmlUploads, xmlutil.Upload{
			Key:       u.Key,
			UploadID:  u.ID,
			Initiator: owner,
			Owner:     owner,
			Initiated: xmlutil.FormatTimeS3(u.Initiated),
		})
	}

	xmlutil.RenderListMultipartUploads(w, &xmlutil.ListMultipartUploadsResult{
		Bucket:      bucketName,
		MaxUploads:  1000,
		IsTruncated: false,
		Uploads:     xmlUploads,
	})
}

// compositeETag derives the multipart object ETag: the hex of the first 16
// bytes of BLAKE3 over the part CIDs concatenated in ascending part order,
// suffixed with the part count.
func compositeETag(partCIDs []string) string {
	h := blake3.New(32, nil)
	for _, cid := range partCIDs {
		h.Write([]byte(cid))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16]) + "-" + strconv.Itoa(len(partCIDs))
}
