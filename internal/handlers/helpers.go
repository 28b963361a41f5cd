// Package handlers implements the S3 API operations served by the gateway.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/functionland/fula-gateway/internal/auth"
	"github.com/functionland/fula-gateway/internal/blockstore"
	"github.com/functionland/fula-gateway/internal/bucket"
	s3err "github.com/functionland/fula-gateway/internal/errors"
	"github.com/functionland/fula-gateway/internal/xmlutil"
)

// requestUser returns the hashed user namespace for the request. The auth
// middleware always sets it; the fallback only matters for handlers invoked
// directly in tests.
func requestUser(r *http.Request) string {
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		return s.HashedUserID
	}
	return auth.LocalNamespace
}

// extractUserMetadata collects x-amz-meta-* request headers into a map with
// lowercased suffix keys.
func extractUserMetadata(r *http.Request) map[string]string {
	var meta map[string]string
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-amz-meta-") || len(values) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
	}
	return meta
}

// setUserMetadataHeaders writes stored user metadata back as x-amz-meta-*
// response headers.
func setUserMetadataHeaders(w http.ResponseWriter, meta map[string]string) {
	for k, v := range meta {
		w.Header().Set("x-amz-meta-"+k, v)
	}
}

// parseCopySource splits an x-amz-copy-source header value into bucket and
// key. The value may be URL-encoded and may carry a leading slash.
func parseCopySource(src string) (srcBucket, srcKey string, ok bool) {
	if unescaped, err := url.PathUnescape(src); err == nil {
		src = unescaped
	}
	src = strings.TrimPrefix(src, "/")
	srcBucket, srcKey, found := strings.Cut(src, "/")
	if !found || srcBucket == "" || srcKey == "" {
		return "", "", false
	}
	return srcBucket, srcKey, true
}

// parseRange parses a Range header against an object of the given size and
// returns the inclusive byte range to serve. Supported forms are
// "bytes=a-b", "bytes=a-", and "bytes=-n". A start past the end of the
// object, or past the requested end, is unsatisfiable.
func parseRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("range %q: missing bytes= prefix", header)
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, fmt.Errorf("range %q: missing dash", header)
	}

	switch {
	case startStr == "":
		// Suffix form: last n bytes.
		n, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || n < 0 {
			return 0, 0, fmt.Errorf("range %q: bad suffix length", header)
		}
		if size == 0 {
			return 0, 0, fmt.Errorf("range %q: empty object", header)
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		return start, size - 1, nil

	case endStr == "":
		start, err = strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return 0, 0, fmt.Errorf("range %q: bad start", header)
		}
		if start >= size {
			return 0, 0, fmt.Errorf("range %q: start beyond object size %d", header, size)
		}
		return start, size - 1, nil

	default:
		start, err = strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return 0, 0, fmt.Errorf("range %q: bad start", header)
		}
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return 0, 0, fmt.Errorf("range %q: bad end", header)
		}
		if start > end || start >= size {
			return 0, 0, fmt.Errorf("range %q: unsatisfiable for size %d", header, size)
		}
		if end > size-1 {
			end = size - 1
		}
		return start, end, nil
	}
}

// writeS3Error renders err as an S3 error response, translating bucket
// layer sentinels. Unrecognized errors become InternalError and are logged.
func writeS3Error(w http.ResponseWriter, r *http.Request, err error) {
	var s3e *s3err.S3Error
	if errors.As(err, &s3e) {
		xmlutil.WriteErrorResponse(w, r, s3e)
		return
	}

	switch {
	case errors.Is(err, bucket.ErrBucketNotFound):
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
	case errors.Is(err, bucket.ErrBucketAlreadyExists):
		xmlutil.WriteErrorResponse(w, r, s3err.ErrBucketAlreadyExists)
	case errors.Is(err, bucket.ErrBucketNotEmpty):
		xmlutil.WriteErrorResponse(w, r, s3err.ErrBucketNotEmpty)
	case errors.Is(err, bucket.ErrInvalidBucketName):
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidBucketName)
	case errors.Is(err, bucket.ErrTooManyBuckets):
		xmlutil.WriteErrorResponse(w, r, s3err.ErrTooManyBuckets)
	default:
		slog.Error("internal error", "error", err, "path", r.URL.Path)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
	}
}

// persistRegistry persists the registry pointer after a mutation. Failures
// are logged but never fail the request: the data is already in the block
// store and the next successful persist catches up.
func persistRegistry(ctx context.Context, m *bucket.Manager, op string) {
	if err := m.PersistRegistry(ctx); err != nil {
		slog.Warn("failed to persist registry", "op", op, "error", err)
	}
}

// pinBucketRoot pins a bucket's new root CID in the background under the
// "bucket:<name>" pin name.
func pinBucketRoot(store blockstore.BlockStore, rootCID, bucketName string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := store.Pin(ctx, rootCID, "bucket:"+bucketName); err != nil {
			slog.Warn("failed to pin bucket root", "cid", rootCID, "bucket", bucketName, "error", err)
		}
	}()
}

// multipartManifest is the DAG node linking the parts of a completed
// multipart upload.
type multipartManifest struct {
	Type  string   `json:"type"`
	Size  int64    `json:"size"`
	Parts []string `json:"parts"`
}

// multipartManifestType marks a multipart manifest node.
const multipartManifestType = "fula-multipart-file"

// resolveObjectData fetches the object's bytes, reassembling multipart
// objects by following their manifest one level.
func resolveObjectData(ctx context.Context, store blockstore.BlockStore, meta bucket.ObjectMeta) ([]byte, error) {
	data, err := store.GetBlock(ctx, meta.CID)
	if err != nil {
		return nil, err
	}

	// A multipart object's root block is a manifest, recognizable by the
	// stored size not matching the block and the document type marker.
	if int64(len(data)) == meta.Size || len(data) == 0 || data[0] != '{' {
		return data, nil
	}
	var manifest multipartManifest
	if err := json.Unmarshal(data, &manifest); err != nil || manifest.Type != multipartManifestType {
		return data, nil
	}

	assembled := make([]byte, 0, meta.Size)
	for _, partCID := range manifest.Parts {
		part, err := store.GetBlock(ctx, partCID)
		if err != nil {
			return nil, fmt.Errorf("fetching part %s: %w", partCID, err)
		}
		assembled = append(assembled, part...)
	}
	return assembled, nil
}
