package node_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"distributed-kvstore/internal/aol"
	"distributed-kvstore/internal/node"
	"distributed-kvstore/internal/rpc"
	"distributed-kvstore/internal/store"
	"distributed-kvstore/internal/timestamp"
)

func newTestNode(t *testing.T, cfg node.Config) *node.Node {
	t.Helper()
	dir := t.TempDir()
	a, err := aol.Open(aol.Config{Path: filepath.Join(dir, "aol.log")}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	if cfg.ReadQuorum == 0 {
		cfg.ReadQuorum = 1
	}
	if cfg.WriteQuorum == 0 {
		cfg.WriteQuorum = 1
	}
	return node.New(cfg, zerolog.Nop(), store.New(zerolog.Nop()), a)
}

// Scenario 1 from spec.md §8: single-node ADD/GET/REMOVE with quorum 1.
func TestSingleNodeAddGetRemove(t *testing.T) {
	n := newTestNode(t, node.Config{SelfAddr: "n1:9000"})
	ctx := context.Background()

	_, ts1 := n.Add(ctx, "a", "1", "INFO")
	require.False(t, ts1.Equal(timestamp.Timestamp{}))

	value, found := n.Get(ctx, "a", "INFO")
	require.True(t, found)
	require.Equal(t, "1", value)

	time.Sleep(time.Millisecond) // ensure a strictly later wall-clock timestamp
	n.Remove(ctx, "a", "INFO")

	_, found = n.Get(ctx, "a", "INFO")
	require.False(t, found)
}

func TestJoinImportsSnapshotAndRegistersJoiner(t *testing.T) {
	seed := newTestNode(t, node.Config{SelfAddr: "seed:9000"})
	seed.Store.ApplyAdd("a", "1", timestamp.Timestamp{Seconds: 1})
	seed.Store.ApplyAdd("b", "x", timestamp.Timestamp{Seconds: 1})
	seed.Store.ApplyRemove("b", timestamp.Timestamp{Seconds: 2})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rpc/cluster/join", func(c *gin.Context) {
		c.JSON(http.StatusOK, seed.HandleJoin(c.Request.Context(), "new-node:9001"))
	})
	r.POST("/rpc/cluster/add-node", func(c *gin.Context) {
		var req rpc.AddNodeRequest
		_ = c.ShouldBindJSON(&req)
		seed.HandleAddNode(req.IP)
		c.JSON(http.StatusOK, rpc.MessageResponse{Message: "ok"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	newNode := newTestNode(t, node.Config{SelfAddr: "new-node:9001"})
	err := newNode.Join(context.Background(), srv.Listener.Addr().String())
	require.NoError(t, err)

	value, found := newNode.Store.Read("a")
	require.True(t, found)
	require.Equal(t, "1", value)

	_, found = newNode.Store.Read("b")
	require.False(t, found)

	require.Contains(t, seed.Pool.Addrs(), "new-node:9001")
}

// A joining node must not end up in its own peer pool. HandleJoin's
// Addrs() snapshot has to be taken before the joiner is ConnMake'd into the
// seed's pool, otherwise the returned address list includes the joiner
// itself and BulkConnMake dials it back.
func TestJoinDoesNotAddSelfToPool(t *testing.T) {
	seed := newTestNode(t, node.Config{SelfAddr: "seed:9000"})
	seed.Pool.ConnMake("existing-peer:9002")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rpc/cluster/join", func(c *gin.Context) {
		c.JSON(http.StatusOK, seed.HandleJoin(c.Request.Context(), "new-node:9001"))
	})
	r.POST("/rpc/cluster/add-node", func(c *gin.Context) {
		var req rpc.AddNodeRequest
		_ = c.ShouldBindJSON(&req)
		seed.HandleAddNode(req.IP)
		c.JSON(http.StatusOK, rpc.MessageResponse{Message: "ok"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	newNode := newTestNode(t, node.Config{SelfAddr: "new-node:9001"})
	err := newNode.Join(context.Background(), srv.Listener.Addr().String())
	require.NoError(t, err)

	addrs := newNode.Pool.Addrs()
	require.Contains(t, addrs, "existing-peer:9002")
	require.NotContains(t, addrs, "new-node:9001")
}

func TestLeaveNotifiesPeers(t *testing.T) {
	var removeCalls int
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rpc/cluster/remove-node", func(c *gin.Context) {
		removeCalls++
		c.JSON(http.StatusOK, rpc.MessageResponse{Message: "ok"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	n := newTestNode(t, node.Config{SelfAddr: "self:9000"})
	n.Pool.ConnMake(srv.Listener.Addr().String())

	n.Leave(context.Background())
	require.Equal(t, 1, removeCalls)
}

func TestApplyRemoteAddIsLocallyVisible(t *testing.T) {
	n := newTestNode(t, node.Config{SelfAddr: "self:9000"})
	n.ApplyRemoteAdd(rpc.KvOperation{Name: "ADD", Key: "k", Value: "v", HasValue: true, Timestamp: timestamp.Timestamp{Seconds: 1}})

	value, found := n.Store.Read("k")
	require.True(t, found)
	require.Equal(t, "v", value)
}
