package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/functionland/fula-gateway/internal/auth"
	"github.com/functionland/fula-gateway/internal/blockstore"
	"github.com/functionland/fula-gateway/internal/bucket"
	"github.com/functionland/fula-gateway/internal/config"
	"github.com/functionland/fula-gateway/internal/metrics"
	"github.com/functionland/fula-gateway/internal/multipart"
)

const testSecret = "test-secret"

func init() {
	// Register metrics once for the entire test binary so that tests
	// checking /metrics output see the expected collectors.
	metrics.Register()
}

// newTestServer creates a Server with an in-memory block store and a paired
// verifier, served via httptest.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:        "127.0.0.1",
			Port:        0,
			MaxBodySize: config.DefaultMaxBodySize,
		},
	}
	store := blockstore.NewMemoryStore()
	buckets := bucket.NewManager(store, t.TempDir()+"/registry.cid")
	uploads := multipart.NewManager()
	verifier := auth.NewVerifier(testSecret, "")

	srv := New(cfg, store, buckets, uploads, verifier)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// do sends an authorized request against the test server.
func do(t *testing.T, ts *httptest.Server, method, path string, body io.Reader, header map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, ts.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testSecret)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthzNoAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body struct {
		Status string `json:"status"`
		Store  string `json:"store"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Store != "memory" {
		t.Errorf("store = %q, want memory", body.Store)
	}
}

func TestMetricsNoAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "fula_gateway_http_requests_total") {
		t.Error("metrics output missing fula_gateway_http_requests_total")
	}
}

func TestUnauthorizedRequestRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "AccessDenied") {
		t.Errorf("body = %s", body)
	}
}

func TestBucketObjectFlow(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, "PUT", "/flow-bucket", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create bucket status = %d", resp.StatusCode)
	}

	resp = do(t, ts, "PUT", "/flow-bucket/greeting.txt", strings.NewReader("hello"), map[string]string{"Content-Type": "text/plain"})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("put object status = %d; body: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Fula-Content-Cid") == "" {
		t.Error("put object: missing X-Fula-Content-Cid")
	}
	if resp.Header.Get("x-amz-request-id") == "" {
		t.Error("put object: missing x-amz-request-id")
	}

	resp = do(t, ts, "GET", "/flow-bucket/greeting.txt", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get object status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("get object body = %q", body)
	}

	resp = do(t, ts, "GET", "/flow-bucket?list-type=2", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list objects status = %d", resp.StatusCode)
	}
	body, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "greeting.txt") {
		t.Errorf("listing missing greeting.txt: %s", body)
	}

	resp = do(t, ts, "DELETE", "/flow-bucket/greeting.txt", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete object status = %d", resp.StatusCode)
	}
	resp = do(t, ts, "DELETE", "/flow-bucket", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete bucket status = %d", resp.StatusCode)
	}
}

func TestTrailingSlashBucketEquivalence(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, "PUT", "/slashed", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create bucket status = %d", resp.StatusCode)
	}

	// "/slashed/" must hit the bucket, not an empty object key.
	resp = do(t, ts, "GET", "/slashed/?list-type=2", nil, nil)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("list via trailing slash status = %d; body: %s", resp.StatusCode, body)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ListBucketResult") {
		t.Errorf("body = %s", body)
	}
}

func TestBucketPostDispatch(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, "PUT", "/postable", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("create bucket failed")
	}

	resp = do(t, ts, "POST", "/postable?delete", strings.NewReader("<Delete/>"), nil)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("?delete status = %d, want %d", resp.StatusCode, http.StatusNotImplemented)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Batch delete not supported on local gateway") {
		t.Errorf("?delete body = %s", body)
	}

	resp = do(t, ts, "POST", "/postable", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bare POST status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestMultipartDispatch(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, "PUT", "/mp-bucket", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("create bucket failed")
	}

	resp = do(t, ts, "POST", "/mp-bucket/file.bin?uploads", nil, nil)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("initiate status = %d; body: %s", resp.StatusCode, body)
	}
	body, _ := io.ReadAll(resp.Body)
	uploadID := extractXMLValue(string(body), "UploadId")
	if uploadID == "" {
		t.Fatalf("no UploadId in %s", body)
	}

	resp = do(t, ts, "PUT", "/mp-bucket/file.bin?partNumber=1&uploadId="+uploadID, strings.NewReader("chunk-a"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload part status = %d", resp.StatusCode)
	}
	resp = do(t, ts, "PUT", "/mp-bucket/file.bin?partNumber=2&uploadId="+uploadID, strings.NewReader("chunk-b"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload part 2 status = %d", resp.StatusCode)
	}

	resp = do(t, ts, "POST", "/mp-bucket/file.bin?uploadId="+uploadID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("complete status = %d; body: %s", resp.StatusCode, body)
	}

	resp = do(t, ts, "GET", "/mp-bucket/file.bin", nil, nil)
	body, _ = io.ReadAll(resp.Body)
	if string(body) != "chunk-achunk-b" {
		t.Errorf("assembled body = %q", body)
	}
}

func TestRootListBuckets(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, "PUT", "/root-test", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("create bucket failed")
	}

	resp = do(t, ts, "GET", "/", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list buckets status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "root-test") {
		t.Errorf("body = %s", body)
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path       string
		wantBucket string
		wantKey    string
	}{
		{"/", "", ""},
		{"", "", ""},
		{"/bucket", "bucket", ""},
		{"/bucket/", "bucket", ""},
		{"/bucket/key", "bucket", "key"},
		{"/bucket/nested/key.txt", "bucket", "nested/key.txt"},
	}
	for _, tt := range tests {
		bucket, key := parsePath(tt.path)
		if bucket != tt.wantBucket || key != tt.wantKey {
			t.Errorf("parsePath(%q) = (%q, %q), want (%q, %q)",
				tt.path, bucket, key, tt.wantBucket, tt.wantKey)
		}
	}
}

// extractXMLValue pulls the text of the first <tag>...</tag> element. Good
// enough for test assertions without a full decode.
func extractXMLValue(doc, tag string) string {
	open := "<" + tag + ">"
	i := strings.Index(doc, open)
	if i < 0 {
		return ""
	}
	j := strings.Index(doc[i:], "</"+tag+">")
	if j < 0 {
		return ""
	}
	return doc[i+len(open) : i+j]
}
