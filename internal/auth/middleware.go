package auth

import (
	"net/http"
	"strings"

	s3err "github.com/functionland/fula-gateway/internal/errors"
	"github.com/functionland/fula-gateway/internal/xmlutil"
)

// skipPaths is the set of paths that do not require authentication.
var skipPaths = map[string]bool{
	"/healthz":      true,
	"/metrics":      true,
	"/docs":         true,
	"/docs/":        true,
	"/openapi":      true,
	"/openapi.json": true,
}

// Middleware returns HTTP middleware that enforces the bearer secret on all
// requests except excluded paths, attaching the session to the request
// context on success. In unpaired mode every request passes and runs as the
// local device.
func Middleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if skipPaths[path] || strings.HasPrefix(path, "/docs") || strings.HasPrefix(path, "/openapi") {
				next.ServeHTTP(w, r)
				return
			}

			session, err := verifier.Verify(r.Header.Get("Authorization"))
			if err != nil {
				bearerErr, ok := err.(*BearerError)
				if !ok {
					xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
					return
				}
				xmlutil.WriteErrorResponse(w, r, s3err.ErrAccessDenied.WithMessage("%s", bearerErr.Message))
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}
