package handlers

import (
	"net/http"

	"github.com/functionland/fula-gateway/internal/bucket"
	"github.com/functionland/fula-gateway/internal/xmlutil"
)

// ownerDisplayName is the display name reported for the device-local owner.
const ownerDisplayName = "Local Device"

// ServiceHandler handles service-level S3 operations.
type ServiceHandler struct {
	buckets *bucket.Manager
}

// NewServiceHandler creates a ServiceHandler.
func NewServiceHandler(buckets *bucket.Manager) *ServiceHandler {
	return &ServiceHandler{buckets: buckets}
}

// ListBuckets handles GET /: all buckets in the caller's namespace.
func (h *ServiceHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	infos, err := h.buckets.ListBucketsForUser(r.Context(), user)
	if err != nil {
		writeS3Error(w, r, err)
		return
	}

	buckets := make([]xmlutil.Bucket, 0, len(infos))
	for _, info := range infos {
		buckets = append(buckets, xmlutil.Bucket{
			Name:         info.Name,
			CreationDate: xmlutil.FormatTimeS3(info.CreatedAt),
		})
	}

	xmlutil.RenderListBuckets(w, &xmlutil.ListAllMyBucketsResult{
		Owner:   xmlutil.Owner{ID: user, DisplayName: ownerDisplayName},
		Buckets: buckets,
	})
}

// HealthCheck handles HEAD /: a cheap liveness probe for S3 clients.
func (h *ServiceHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
