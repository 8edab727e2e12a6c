// Package client is a thin HTTP wrapper for the hash timestamping API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// RecordSize is the fixed size of a hash record in bytes.
const RecordSize = 64

// Client talks to a timestamping sink over HTTP.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout. Zero disables it,
// matching the reference harness's unbounded requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithH2C switches the transport to HTTP/2 over cleartext TCP.
func WithH2C() Option {
	return func(c *Client) {
		c.HTTPClient.Transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		}
	}
}

// New creates a client for the given base URL.
func New(url string, opts ...Option) *Client {
	c := &Client{
		URL: url,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddResult is the sink's response to /add.
type AddResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	TotalHashes    int    `json:"total_hashes"`
	NewHashes      int    `json:"new_hashes"`
	ExistingHashes int    `json:"existing_hashes"`
}

// AddHash submits a single record as a JSON body.
func (c *Client) AddHash(ctx context.Context, record []byte) error {
	body, err := json.Marshal(map[string]string{"hash": hex.EncodeToString(record)})
	if err != nil {
		return fmt.Errorf("marshal add body: %w", err)
	}
	var result AddResult
	if err := c.post(ctx, "/add", "application/json", body, &result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("add rejected: %s", result.Message)
	}
	return nil
}

// AddBatch submits records as one concatenated octet-stream body.
func (c *Client) AddBatch(ctx context.Context, records [][]byte) error {
	body := make([]byte, 0, len(records)*RecordSize)
	for _, r := range records {
		body = append(body, r...)
	}
	var result AddResult
	if err := c.post(ctx, "/add", "application/octet-stream", body, &result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("batch rejected: %s", result.Message)
	}
	return nil
}

// ProofStep is one level of a merkle inclusion proof.
type ProofStep struct {
	Sibling string `json:"sibling"`
	Left    bool   `json:"left"`
}

// CheckResult is the sink's response to /check.
type CheckResult struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	Exists      bool        `json:"exists"`
	MerkleProof []ProofStep `json:"merkle_proof,omitempty"`
}

// Check asks whether a record is in the store.
func (c *Client) Check(ctx context.Context, record []byte) (*CheckResult, error) {
	var result CheckResult
	if err := c.post(ctx, "/check", "application/octet-stream", record, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateTreeResult is the sink's response to /update-tree.
type UpdateTreeResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	TreeSize  int    `json:"tree_size"`
	HashCount int    `json:"hash_count"`
}

// UpdateTree rebuilds the sink's merkle tree.
func (c *Client) UpdateTree(ctx context.Context) (*UpdateTreeResult, error) {
	var result UpdateTreeResult
	if err := c.post(ctx, "/update-tree", "application/json", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StatsResult is the sink's response to /stats.
type StatsResult struct {
	Count          int    `json:"count"`
	Slots          int    `json:"slots"`
	TotalSlots     int    `json:"total_slots"`
	MerkleTreeSize int    `json:"merkle_tree_size"`
	MerkleTreeRoot string `json:"merkle_tree_root,omitempty"`
	LastTreeUpdate int64  `json:"last_tree_update,omitempty"`
}

// Stats returns storage statistics.
func (c *Client) Stats(ctx context.Context) (*StatsResult, error) {
	var result StatsResult
	if err := c.doRequest(ctx, http.MethodGet, "/stats", "", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Healthz reports whether the sink answers its health endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

// HTTP helpers

func (c *Client) post(ctx context.Context, path, contentType string, body []byte, result interface{}) error {
	return c.doRequest(ctx, http.MethodPost, path, contentType, body, result)
}

func (c *Client) doRequest(ctx context.Context, method, path, contentType string, body []byte, result interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, reader)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		json.Unmarshal(data, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		if msg == "" {
			msg = string(data)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	if result != nil {
		return json.Unmarshal(data, result)
	}
	return nil
}
