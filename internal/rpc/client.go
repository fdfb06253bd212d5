package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PeerClient talks to exactly one peer node over HTTP/JSON. It is the
// "established bidirectional RPC channel" spec.md §4.4 describes — HTTP is
// not bidirectional in the streaming sense, but each PeerClient is a
// reusable, pooled connection to one peer's RPC port, which is the property
// the peer pool actually needs.
//
// Modeled on the teacher's internal/client.Client, generalized from the
// external client-facing API to the peer-internal one (KvStore +
// ClusterManagement instead of /kv and /cluster).
type PeerClient struct {
	Addr       string // host:port, the peer's RPC port
	httpClient *http.Client
}

// NewPeerClient dials (in the HTTP sense: constructs a pooled client bound
// to addr) a peer. Construction never fails outright — a peer that is
// unreachable simply fails its first RPC, which conn_make's caller logs and
// drops per spec.md §4.4/§7 item 2.
func NewPeerClient(addr string, timeout time.Duration) *PeerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PeerClient{
		Addr:       addr,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *PeerClient) url(path string) string {
	return fmt.Sprintf("http://%s%s", c.Addr, path)
}

func (c *PeerClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("peer %s returned HTTP %d: %s", c.Addr, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ─── KvStore RPCs ─────────────────────────────────────────────────────────

// GetKv issues the GetKv RPC.
func (c *PeerClient) GetKv(ctx context.Context, op KvOperation) (GetKvResponse, error) {
	var resp GetKvResponse
	err := c.doJSON(ctx, http.MethodPost, "/rpc/kv/get", op, &resp)
	return resp, err
}

// AddKv issues the AddKv RPC. Per spec.md §4.8, the peer-side handler
// applies the operation locally and durably but never re-fans-out.
func (c *PeerClient) AddKv(ctx context.Context, op KvOperation) (MessageResponse, error) {
	var resp MessageResponse
	err := c.doJSON(ctx, http.MethodPost, "/rpc/kv/add", op, &resp)
	return resp, err
}

// RemoveKv issues the RemoveKv RPC.
func (c *PeerClient) RemoveKv(ctx context.Context, op KvOperation) (RemoveKvResponse, error) {
	var resp RemoveKvResponse
	err := c.doJSON(ctx, http.MethodPost, "/rpc/kv/remove", op, &resp)
	return resp, err
}

// ─── ClusterManagement RPCs ───────────────────────────────────────────────

// Join issues the Join RPC to a seed node.
func (c *PeerClient) Join(ctx context.Context) (JoinResponse, error) {
	var resp JoinResponse
	err := c.doJSON(ctx, http.MethodPost, "/rpc/cluster/join", nil, &resp)
	return resp, err
}

// RemoveNode issues the RemoveNode RPC. The peer derives the caller's
// address from the connection itself in the original spec; over HTTP we
// pass it explicitly in the body since there is no persistent connection
// to introspect.
func (c *PeerClient) RemoveNode(ctx context.Context, callerAddr string) (MessageResponse, error) {
	var resp MessageResponse
	err := c.doJSON(ctx, http.MethodPost, "/rpc/cluster/remove-node", RemoveNodeRequest{Addr: callerAddr}, &resp)
	return resp, err
}

// AddNode issues the AddNode RPC, gossiping a newly joined peer's address.
func (c *PeerClient) AddNode(ctx context.Context, ip string) (MessageResponse, error) {
	var resp MessageResponse
	err := c.doJSON(ctx, http.MethodPost, "/rpc/cluster/add-node", AddNodeRequest{IP: ip}, &resp)
	return resp, err
}
