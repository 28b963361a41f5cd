// Package server implements the gateway HTTP server and S3-compatible route multiplexer.
package server

import (
	"context"
	"net/http"

	"github.com/functionland/fula-gateway/internal/auth"
	"github.com/functionland/fula-gateway/internal/blockstore"
	"github.com/functionland/fula-gateway/internal/bucket"
	"github.com/functionland/fula-gateway/internal/config"
	s3err "github.com/functionland/fula-gateway/internal/errors"
	"github.com/functionland/fula-gateway/internal/handlers"
	"github.com/functionland/fula-gateway/internal/multipart"
	"github.com/functionland/fula-gateway/internal/xmlutil"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the gateway HTTP server. It routes incoming requests to the
// appropriate S3-compatible handler based on the request method, path, and
// query parameters.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	store      blockstore.BlockStore
	buckets    *bucket.Manager
	uploads    *multipart.Manager
	verifier   *auth.Verifier
	service    *handlers.ServiceHandler
	bucketH    *handlers.BucketHandler
	object     *handlers.ObjectHandler
	multi      *handlers.MultipartHandler
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
	Store  string `json:"store" example:"ipfs" doc:"Active block store backend"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a new Server with the given configuration and dependencies and
// wires up all S3-compatible routes on the Chi router with Huma API.
func New(cfg *config.Config, store blockstore.BlockStore, buckets *bucket.Manager, uploads *multipart.Manager, verifier *auth.Verifier) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("Fula Local Gateway S3 API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:      cfg,
		router:   router,
		api:      api,
		store:    store,
		buckets:  buckets,
		uploads:  uploads,
		verifier: verifier,
	}

	s.service = handlers.NewServiceHandler(buckets)
	s.bucketH = handlers.NewBucketHandler(buckets)
	s.object = handlers.NewObjectHandler(buckets, store)
	s.multi = handlers.NewMultipartHandler(buckets, store, uploads)

	s.registerRoutes()
	return s
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Handler returns the fully wrapped HTTP handler. Middleware chain, outermost
// first: body limit -> CORS -> metrics -> request logging -> common headers
// -> auth -> metadata header rewrite -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	// Rewrite x-amz-meta-* headers to lowercase (must be innermost wrapper).
	handler = metadataHeaderMiddleware(handler)
	if s.verifier != nil {
		handler = auth.Middleware(s.verifier)(handler)
	}
	handler = commonHeaders(handler)
	handler = requestLogger(handler)
	handler = metricsMiddleware(handler)
	handler = cors.AllowAll().Handler(handler)
	handler = bodyLimit(s.cfg.Server.MaxBodySize)(handler)
	return handler
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
// Huma routes (/healthz, /docs, /openapi.json) and /metrics are registered
// first. The S3 catch-all /* is registered last. Chi matches more specific
// routes first.
func (s *Server) registerRoutes() {
	// Register /healthz via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-healthz",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Returns the health status of the gateway and its active block store.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		backend := "memory"
		if s.store.Persistent() {
			backend = "ipfs"
		}
		return &HealthOutput{Body: HealthBody{Status: "ok", Store: backend}}, nil
	})

	// Register HEAD /healthz separately (Huma only does one method per registration).
	s.router.Head("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	// Register /metrics via promhttp.Handler().
	s.router.Handle("/metrics", promhttp.Handler())

	// S3 catch-all: all remaining requests go through the dispatch function.
	s.router.HandleFunc("/*", s.dispatch)
}

// parsePath extracts bucket and object key from the request path.
// Returns ("", "") for root "/", ("bucket", "") for "/{bucket}" and
// "/{bucket}/", and ("bucket", "key/path") for "/{bucket}/{key...}".
func parsePath(path string) (bucket, key string) {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}

// dispatch is the main request dispatcher. It parses the path to extract
// bucket and object key, then routes by HTTP method and query parameters.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	bucket, key := parsePath(r.URL.Path)
	q := r.URL.Query()

	// Service-level operations (no bucket in path).
	if bucket == "" {
		switch r.Method {
		case http.MethodGet:
			s.service.ListBuckets(w, r)
		case http.MethodHead:
			s.service.HealthCheck(w, r)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		}
		return
	}

	// Object-level operations (bucket + key in path).
	if key != "" {
		switch r.Method {
		case http.MethodPut:
			switch {
			case q.Has("partNumber") && q.Has("uploadId"):
				s.multi.UploadPart(w, r, bucket, key)
			case r.Header.Get("X-Amz-Copy-Source") != "":
				s.object.CopyObject(w, r, bucket, key)
			default:
				s.object.PutObject(w, r, bucket, key)
			}
		case http.MethodGet:
			if q.Has("uploadId") {
				s.multi.ListParts(w, r, bucket, key)
			} else {
				s.object.GetObject(w, r, bucket, key)
			}
		case http.MethodHead:
			s.object.HeadObject(w, r, bucket, key)
		case http.MethodDelete:
			if q.Has("uploadId") {
				s.multi.AbortUpload(w, r, bucket, key)
			} else {
				s.object.DeleteObject(w, r, bucket, key)
			}
		case http.MethodPost:
			switch {
			case q.Has("uploadId"):
				s.multi.CompleteUpload(w, r, bucket, key)
			case q.Has("uploads"):
				s.multi.InitiateUpload(w, r, bucket, key)
			default:
				xmlutil.WriteErrorResponse(w, r,
					s3err.ErrInvalidRequest.WithMessage("Invalid POST request"))
			}
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
		}
		return
	}

	// Bucket-level operations (bucket in path, no key).
	switch r.Method {
	case http.MethodPut:
		s.bucketH.CreateBucket(w, r, bucket)
	case http.MethodGet:
		switch {
		case q.Has("location"):
			s.bucketH.GetBucketLocation(w, r, bucket)
		case q.Has("uploads"):
			s.multi.ListUploads(w, r, bucket)
		default:
			s.bucketH.ListObjects(w, r, bucket)
		}
	case http.MethodHead:
		s.bucketH.HeadBucket(w, r, bucket)
	case http.MethodDelete:
		s.bucketH.DeleteBucket(w, r, bucket)
	case http.MethodPost:
		if q.Has("delete") {
			xmlutil.WriteErrorResponse(w, r,
				s3err.ErrNotImplemented.WithMessage("Batch delete not supported on local gateway"))
		} else {
			xmlutil.WriteErrorResponse(w, r,
				s3err.ErrInvalidRequest.WithMessage("Invalid POST request on bucket"))
		}
	default:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
	}
}
