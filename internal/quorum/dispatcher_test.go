package quorum_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"distributed-kvstore/internal/peerpool"
	"distributed-kvstore/internal/quorum"
	"distributed-kvstore/internal/rpc"
)

// fakePeerServer spins up an in-process gin server that always acks ADD
// and RemoveKv RPCs, so dispatcher tests exercise the real HTTP transport
// without standing up full nodes.
func fakePeerServer(t *testing.T) *httptest.Server {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rpc/kv/add", func(c *gin.Context) {
		c.JSON(http.StatusOK, rpc.MessageResponse{Message: "ok"})
	})
	r.POST("/rpc/kv/remove", func(c *gin.Context) {
		c.JSON(http.StatusOK, rpc.RemoveKvResponse{Message: "ok", IsRemoved: true})
	})
	r.POST("/rpc/kv/get", func(c *gin.Context) {
		c.JSON(http.StatusOK, rpc.GetKvResponse{Found: true, Value: "v", HasValue: true})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func addrOf(srv *httptest.Server) string {
	// httptest.Server.URL is like "http://127.0.0.1:port"; PeerClient wants host:port.
	return srv.Listener.Addr().String()
}

func TestDispatchAddQuorumAchieved(t *testing.T) {
	pool := peerpool.New(zerolog.Nop(), time.Second)

	srv1 := fakePeerServer(t)
	srv2 := fakePeerServer(t)
	pool.ConnMake(addrOf(srv1))
	pool.ConnMake(addrOf(srv2))

	d := quorum.New(pool, zerolog.Nop())
	res := d.DispatchAdd(context.Background(), rpc.KvOperation{Name: "ADD", Key: "k", Value: "v"}, 2)

	require.True(t, res.QuorumAchieved)
	require.Len(t, res.Responses, 2)
}

func TestDispatchAddQuorumNotAchieved(t *testing.T) {
	pool := peerpool.New(zerolog.Nop(), time.Second)
	srv1 := fakePeerServer(t)
	pool.ConnMake(addrOf(srv1))
	// A peer with no listener behind it: RPC will fail.
	pool.ConnMake("127.0.0.1:1")

	d := quorum.New(pool, zerolog.Nop())
	res := d.DispatchAdd(context.Background(), rpc.KvOperation{Name: "ADD", Key: "k", Value: "v"}, 2)

	require.False(t, res.QuorumAchieved)
	require.Len(t, res.Responses, 2)
}

func TestDispatchGetCollectsAllResponses(t *testing.T) {
	pool := peerpool.New(zerolog.Nop(), time.Second)
	srv := fakePeerServer(t)
	pool.ConnMake(addrOf(srv))

	d := quorum.New(pool, zerolog.Nop())
	res := d.DispatchGet(context.Background(), rpc.KvOperation{Name: "GET", Key: "k"}, 1)

	require.True(t, res.QuorumAchieved)
	require.Len(t, res.Responses, 1)
	require.True(t, res.Responses[0].GetResult.Found)
}

func TestDispatchWithNoPeersNeverAchievesNonZeroQuorum(t *testing.T) {
	pool := peerpool.New(zerolog.Nop(), time.Second)
	d := quorum.New(pool, zerolog.Nop())

	res := d.DispatchAdd(context.Background(), rpc.KvOperation{Name: "ADD", Key: "k", Value: "v"}, 1)
	require.False(t, res.QuorumAchieved)
	require.Empty(t, res.Responses)
}
