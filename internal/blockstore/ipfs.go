package blockstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/functionland/fula-gateway/internal/metrics"
)

// IPFSStore implements BlockStore against a Kubo node's HTTP RPC API.
// All endpoints are POST per the Kubo API convention.
type IPFSStore struct {
	apiURL string
	client *http.Client
}

// NewIPFSStore creates a client for the Kubo API at apiURL
// (e.g., "http://127.0.0.1:5001"). A trailing slash is trimmed.
func NewIPFSStore(apiURL string) *IPFSStore {
	return &IPFSStore{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// Ping verifies the Kubo API is reachable. Used as the startup probe before
// committing to IPFS-backed storage.
func (s *IPFSStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/api/v0/id", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("kubo id: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("kubo id: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// PutBlock stores data as a raw block and returns its CID.
func (s *IPFSStore) PutBlock(ctx context.Context, data []byte) (string, error) {
	u := s.apiURL + "/api/v0/block/put?cid-codec=raw"
	resp, err := s.postFile(ctx, u, data)
	if err != nil {
		return "", fmt.Errorf("kubo block/put: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("kubo block/put: status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Key  string `json:"Key"`
		Size int    `json:"Size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("kubo block/put decode: %w", err)
	}
	if result.Key == "" {
		return "", fmt.Errorf("kubo block/put: empty CID in response")
	}
	metrics.BlockPutsTotal.Inc()
	return result.Key, nil
}

// GetBlock retrieves the raw bytes of the block addressed by cid.
func (s *IPFSStore) GetBlock(ctx context.Context, cid string) ([]byte, error) {
	u := s.apiURL + "/api/v0/block/get?arg=" + url.QueryEscape(cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kubo block/get %s: %w", cid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("kubo block/get %s: status %d: %s", cid, resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// PutIPLD stores doc as a dag-json node and returns its CID. dag-json blocks
// read back through GetBlock as plain JSON, which is what the bucket graph
// relies on.
func (s *IPFSStore) PutIPLD(ctx context.Context, doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding ipld document: %w", err)
	}

	u := s.apiURL + "/api/v0/dag/put?store-codec=dag-json&input-codec=dag-json"
	resp, err := s.postFile(ctx, u, data)
	if err != nil {
		return "", fmt.Errorf("kubo dag/put: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("kubo dag/put: status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Cid struct {
			Slash string `json:"/"`
		} `json:"Cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("kubo dag/put decode: %w", err)
	}
	if result.Cid.Slash == "" {
		return "", fmt.Errorf("kubo dag/put: empty CID in response")
	}
	return result.Cid.Slash, nil
}

// Pin pins cid recursively under the given name.
func (s *IPFSStore) Pin(ctx context.Context, cid, name string) error {
	u := fmt.Sprintf("%s/api/v0/pin/add?arg=%s&recursive=true&name=%s",
		s.apiURL, url.QueryEscape(cid), url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("kubo pin/add %s: %w", cid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("kubo pin/add %s: status %d: %s", cid, resp.StatusCode, string(body))
	}
	return nil
}

// Persistent reports true: blocks live in the Kubo node's repo on disk.
func (s *IPFSStore) Persistent() bool {
	return true
}

// postFile sends data as the "file" field of a multipart form, the upload
// shape the Kubo API expects for block/put and dag/put.
func (s *IPFSStore) postFile(ctx context.Context, u string, data []byte) (*http.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "file")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.client.Do(req)
}

// Ensure IPFSStore implements BlockStore at compile time.
var _ BlockStore = (*IPFSStore)(nil)
