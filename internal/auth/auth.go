// Package auth implements the gateway's bearer-secret authentication and
// the derived per-user identity under which all buckets are namespaced.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"lukechampine.com/blake3"
)

// LocalNamespace is the registry namespace used when no owner identity is
// configured: every caller shares the device-local identity.
const LocalNamespace = "local-device"

// userIDPrefix domain-separates the user hash from other BLAKE3 uses.
const userIDPrefix = "fula:user_id:"

// Session is the authenticated identity attached to each request.
type Session struct {
	// HashedUserID is the namespace key in the bucket registry.
	HashedUserID string
	// Paired reports whether a bearer secret is being enforced.
	Paired bool
}

// HashUserID derives the registry namespace key for a user: the hex of the
// first 16 bytes of BLAKE3("fula:user_id:" + userID).
func HashUserID(userID string) string {
	sum := blake3.Sum256([]byte(userIDPrefix + userID))
	return hex.EncodeToString(sum[:16])
}

// TokenSubject extracts the sub claim from a JWT without verifying its
// signature. The box itself issued the token, so possession is the only
// thing being checked here.
func TokenSubject(token string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("reading sub claim: %w", err)
	}
	if sub == "" {
		return "", fmt.Errorf("token has no sub claim")
	}
	return sub, nil
}

// Verifier checks bearer secrets and produces the session for each request.
// A Verifier with an empty secret is unpaired: nothing is enforced and all
// requests run as the local device.
type Verifier struct {
	secret  string
	session Session
}

// NewVerifier creates a Verifier. secret may be empty (unpaired mode).
// hashedOwner is the registry namespace key, already hashed by the caller
// (HashUserID of a JWT sub, or the --owner-id value verbatim); when empty,
// the device-local namespace is used.
func NewVerifier(secret, hashedOwner string) *Verifier {
	if hashedOwner == "" {
		hashedOwner = LocalNamespace
	}
	return &Verifier{
		secret:  secret,
		session: Session{HashedUserID: hashedOwner, Paired: secret != ""},
	}
}

// Paired reports whether a bearer secret is being enforced.
func (v *Verifier) Paired() bool {
	return v.secret != ""
}

// Verify checks the Authorization header value and returns the request
// session. The comparison is constant time.
func (v *Verifier) Verify(authorization string) (Session, error) {
	if !v.Paired() {
		return v.session, nil
	}

	if authorization == "" {
		return Session{}, &BearerError{Message: "Authentication required. Use 'Authorization: Bearer <secret>'"}
	}
	const prefix = "Bearer "
	if len(authorization) < len(prefix) || authorization[:len(prefix)] != prefix {
		return Session{}, &BearerError{Message: "Use 'Authorization: Bearer <secret>'"}
	}
	token := authorization[len(prefix):]
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.secret)) != 1 {
		return Session{}, &BearerError{Message: "Invalid bearer token"}
	}
	return v.session, nil
}

// BearerError describes a failed bearer check. It always maps to
// AccessDenied; the message tells the caller what was wrong.
type BearerError struct {
	Message string
}

func (e *BearerError) Error() string {
	return e.Message
}

// sessionKey is the context key for the request session.
type sessionKey struct{}

// ContextWithSession returns a context carrying the session.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session set by the auth middleware.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
