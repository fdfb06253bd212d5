// Package client provides a Go SDK for talking to the distributed KV
// store's external façade.
//
// This client talks to a single node. That node is responsible for local
// apply, durability, and quorum fan-out to the rest of the cluster; the
// client itself implements none of the distributed logic, it only wraps
// the HTTP calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"distributed-kvstore/internal/timestamp"
)

// Client represents a connection to one KV node's external façade.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client. timeout protects against hanging indefinitely
// on a slow or partitioned node; it defaults to 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PutResponse is returned after a write, reporting whether the configured
// write quorum was met.
type PutResponse struct {
	Key            string              `json:"key"`
	Value          string              `json:"value"`
	Timestamp      timestamp.Timestamp `json:"timestamp"`
	QuorumAchieved bool                `json:"quorum_achieved"`
	Votes          int                 `json:"votes"`
}

// GetResponse is returned after a successful read.
type GetResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DeleteResponse is returned after a delete.
type DeleteResponse struct {
	Key            string              `json:"key"`
	Removed        bool                `json:"removed"`
	Timestamp      timestamp.Timestamp `json:"timestamp"`
	QuorumAchieved bool                `json:"quorum_achieved"`
}

// Put stores key=value in the cluster via this node.
func (c *Client) Put(ctx context.Context, key, value string) (*PutResponse, error) {
	body, _ := json.Marshal(map[string]string{"value": value})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/kv/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result PutResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Get retrieves value for key. A 404 response is converted into ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (*GetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/kv/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result GetResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Delete removes key from the cluster via this node.
func (c *Client) Delete(ctx context.Context, key string) (*DeleteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/kv/%s", c.baseURL, key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result DeleteResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// JoinCluster tells this node to join the cluster using seedAddr as its
// bootstrap seed (the seed's peer RPC address, e.g. "host:rpcport", not
// its façade URL).
func (c *Client) JoinCluster(ctx context.Context, seedAddr string) error {
	body, _ := json.Marshal(map[string]string{"seed": seedAddr})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/cluster/join", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// LeaveCluster tells this node to gracefully leave the cluster.
func (c *Client) LeaveCluster(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/cluster/leave", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ─── Errors ────────────────────────────────────────────────────────────────

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts HTTP error responses into Go errors.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
