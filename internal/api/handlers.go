// Package api wires up the Gin HTTP router with the external client-facing
// façade and the peer-to-peer RPC surface. Per spec.md §1 the façade itself
// is a thin JSON adapter — out of scope for the core — but the wire schema
// of the peer RPC endpoints is a compatibility boundary and is specified
// (spec.md §4.8), so both live here: RegisterFacade and RegisterRPC mount
// them on two separate Gin engines, each served on its own listener.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"distributed-kvstore/internal/node"
	"distributed-kvstore/internal/rpc"
)

// Handler holds the single Node every route delegates to, plus the
// cluster-wide RPC port (spec.md §6: "the RPC port is uniform across the
// cluster") used to derive a joining peer's advertised address from its
// connection's remote IP.
type Handler struct {
	node    *node.Node
	rpcPort string
}

// NewHandler creates a Handler bound to n. rpcPort is this deployment's
// uniform peer RPC port, substituted into a joining peer's remote IP.
func NewHandler(n *node.Node, rpcPort string) *Handler {
	return &Handler{node: n, rpcPort: rpcPort}
}

// RegisterFacade mounts the external client-facing façade (/kv, /cluster) on
// engine. Per spec.md §6 this listens on the node's external HTTP address,
// a distinct port from the peer RPC surface.
func (h *Handler) RegisterFacade(engine *gin.Engine) {
	kv := engine.Group("/kv")
	kv.PUT("/:key", h.Put)
	kv.GET("/:key", h.Get)
	kv.DELETE("/:key", h.Delete)

	clusterGroup := engine.Group("/cluster")
	clusterGroup.POST("/join", h.JoinViaSeed)
	clusterGroup.POST("/leave", h.LeaveCluster)
	clusterGroup.GET("/nodes", h.ListNodes)
}

// RegisterRPC mounts the peer-to-peer RPC surface (/rpc/kv, /rpc/cluster) on
// engine. Per spec.md §6 this listens on the cluster-wide uniform RPC port —
// a separate listener from the façade, since peers dial it directly and
// RPCJoin derives a caller's advertised address by substituting that port
// into the connection's remote IP.
func (h *Handler) RegisterRPC(engine *gin.Engine) {
	kvRPC := engine.Group("/rpc/kv")
	kvRPC.POST("/add", h.RPCAddKv)
	kvRPC.POST("/remove", h.RPCRemoveKv)
	kvRPC.POST("/get", h.RPCGetKv)

	clusterRPC := engine.Group("/rpc/cluster")
	clusterRPC.POST("/join", h.RPCJoin)
	clusterRPC.POST("/add-node", h.RPCAddNode)
	clusterRPC.POST("/remove-node", h.RPCRemoveNode)
}

// ─── External façade ──────────────────────────────────────────────────────

type putBody struct {
	Value string `json:"value" binding:"required"`
	Level string `json:"level"`
}

// Put handles PUT /kv/:key, building an ADD operation and calling the core.
func (h *Handler) Put(c *gin.Context) {
	key := c.Param("key")

	var body putBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	level := levelOrDefault(body.Level)

	result, ts := h.node.Add(c.Request.Context(), key, body.Value, level)
	votes := 1 // the local apply
	for _, r := range result.Responses {
		if r.Success {
			votes++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"key":             key,
		"value":           body.Value,
		"timestamp":       ts,
		"quorum_achieved": result.QuorumAchieved,
		"votes":           votes,
	})
}

// Get handles GET /kv/:key.
func (h *Handler) Get(c *gin.Context) {
	key := c.Param("key")
	level := levelOrDefault(c.Query("level"))

	value, found := h.node.Get(c.Request.Context(), key, level)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

// Delete handles DELETE /kv/:key.
func (h *Handler) Delete(c *gin.Context) {
	key := c.Param("key")
	level := levelOrDefault(c.Query("level"))

	result, applied, ts := h.node.Remove(c.Request.Context(), key, level)
	c.JSON(http.StatusOK, gin.H{
		"key":             key,
		"removed":         applied,
		"timestamp":       ts,
		"quorum_achieved": result.QuorumAchieved,
	})
}

// ─── Cluster management façade ────────────────────────────────────────────

type joinBody struct {
	Seed string `json:"seed" binding:"required"`
}

// JoinViaSeed handles POST /cluster/join: tells this node to join the
// cluster using the given seed address.
func (h *Handler) JoinViaSeed(c *gin.Context) {
	var body joinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.node.Join(c.Request.Context(), body.Seed); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": true, "seed": body.Seed})
}

// LeaveCluster handles POST /cluster/leave.
func (h *Handler) LeaveCluster(c *gin.Context) {
	h.node.Leave(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"left": true})
}

// ListNodes handles GET /cluster/nodes.
func (h *Handler) ListNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": h.node.Pool.Addrs()})
}

// ─── Peer-to-peer RPC surface (spec.md §4.8) ──────────────────────────────

// RPCAddKv handles the KvStore.AddKv RPC. It applies the operation locally
// and durably; per spec.md §4.8 it never re-fans-out.
func (h *Handler) RPCAddKv(c *gin.Context) {
	var op rpc.KvOperation
	if err := c.ShouldBindJSON(&op); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.node.ApplyRemoteAdd(op)
	c.JSON(http.StatusOK, rpc.MessageResponse{Message: "ok"})
}

// RPCRemoveKv handles the KvStore.RemoveKv RPC.
func (h *Handler) RPCRemoveKv(c *gin.Context) {
	var op rpc.KvOperation
	if err := c.ShouldBindJSON(&op); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	removed := h.node.ApplyRemoteRemove(op)
	c.JSON(http.StatusOK, rpc.RemoveKvResponse{Message: "ok", IsRemoved: removed})
}

// RPCGetKv handles the KvStore.GetKv RPC.
func (h *Handler) RPCGetKv(c *gin.Context) {
	var op rpc.KvOperation
	if err := c.ShouldBindJSON(&op); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.node.LocalGet(op.Key))
}

// RPCJoin handles the ClusterManagement.Join RPC. The caller's address is
// derived from the HTTP connection's remote endpoint, substituting the
// configured RPC port, per spec.md §4.7 step 1.
func (h *Handler) RPCJoin(c *gin.Context) {
	callerAddr := c.ClientIP() + ":" + h.rpcPort
	c.JSON(http.StatusOK, h.node.HandleJoin(c.Request.Context(), callerAddr))
}

// RPCAddNode handles the ClusterManagement.AddNode RPC (gossip).
func (h *Handler) RPCAddNode(c *gin.Context) {
	var req rpc.AddNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.node.HandleAddNode(req.IP)
	c.JSON(http.StatusOK, rpc.MessageResponse{Message: "ok"})
}

// RPCRemoveNode handles the ClusterManagement.RemoveNode RPC.
func (h *Handler) RPCRemoveNode(c *gin.Context) {
	var req rpc.RemoveNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.node.HandleRemoveNode(req.Addr); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rpc.MessageResponse{Message: "ok"})
}

func levelOrDefault(level string) string {
	if level == "" {
		return "INFO"
	}
	return level
}
