// Package node owns the top-level collaborators — Store, AOL, peer Pool,
// quorum Dispatcher, and Repairer — and exposes both the façade-facing
// operations (Add/Remove/Get) and the peer-side RPC handlers, per spec.md
// §9 "ownership of shared collaborators": the node object is constructed
// once, process-wide, and every handler borrows its dependencies through
// this struct rather than through globals.
//
// Modeled on the teacher's cmd/server wiring (selfID + store + replicator +
// membership bundled ad hoc in main), lifted into its own package and
// generalized to the gossip/quorum/read-repair pipeline spec.md §4 names.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"distributed-kvstore/internal/aol"
	"distributed-kvstore/internal/peerpool"
	"distributed-kvstore/internal/quorum"
	"distributed-kvstore/internal/readrepair"
	"distributed-kvstore/internal/rpc"
	"distributed-kvstore/internal/store"
	"distributed-kvstore/internal/timestamp"
)

// Config controls quorum targets and this node's own advertised RPC
// address (used when gossiping and joining). Everything else (AOL path,
// flush interval, seed address) is handled by the caller (cmd/server)
// before/while constructing a Node.
type Config struct {
	SelfAddr    string // this node's own host:port, as peers should dial it
	ReadQuorum  int    // default 1, per spec.md §6
	WriteQuorum int    // default 1, per spec.md §6
	DialTimeout time.Duration
}

// Node bundles the collaborators named in spec.md §2 components 2-7: the
// AOL, the Store, the peer Pool, the quorum Dispatcher, and the Repairer.
// It is the single owner of all of them.
type Node struct {
	cfg Config
	log zerolog.Logger

	Store      *store.Store
	AOL        *aol.AOL
	Pool       *peerpool.Pool
	Dispatcher *quorum.Dispatcher
	Repairer   *readrepair.Repairer
}

// New wires a Node from already-opened collaborators. Opening the Store
// and AOL (including replay) is the caller's responsibility — cmd/server
// decides fresh-start vs replay-log vs ordinary restart before calling New.
func New(cfg Config, log zerolog.Logger, s *store.Store, a *aol.AOL) *Node {
	log = log.With().Str("component", "node").Str("self", cfg.SelfAddr).Logger()
	pool := peerpool.New(log, cfg.DialTimeout)
	return &Node{
		cfg:        cfg,
		log:        log,
		Store:      s,
		AOL:        a,
		Pool:       pool,
		Dispatcher: quorum.New(pool, log),
		Repairer:   readrepair.New(s, log),
	}
}

// writeRequired converts the configured write quorum into the peer-vote
// count the dispatcher needs, per spec.md §4.5: R = quorum - 1 (the local
// apply already counts as one vote).
func (n *Node) writeRequired() int {
	r := n.cfg.WriteQuorum - 1
	if r < 0 {
		r = 0
	}
	return r
}

func (n *Node) readRequired() int {
	r := n.cfg.ReadQuorum - 1
	if r < 0 {
		r = 0
	}
	return r
}

// Add implements the façade-facing write path, per spec.md §2's data flow:
// local apply, durability enqueue, then quorum fan-out to peers.
func (n *Node) Add(ctx context.Context, key, value, level string) (quorum.Result, timestamp.Timestamp) {
	ts := timestamp.Now()
	n.Store.ApplyAdd(key, value, ts)
	n.AOL.Invoke("ADD", level, key, value, true, ts)

	op := rpc.KvOperation{Name: "ADD", Level: level, Key: key, Value: value, HasValue: true, Timestamp: ts}
	result := n.Dispatcher.DispatchAdd(ctx, op, n.writeRequired())
	return result, ts
}

// Remove implements the façade-facing delete path, mirroring Add.
func (n *Node) Remove(ctx context.Context, key, level string) (quorum.Result, bool, timestamp.Timestamp) {
	ts := timestamp.Now()
	applied := n.Store.ApplyRemove(key, ts)
	n.AOL.Invoke("REMOVE", level, key, "", false, ts)

	op := rpc.KvOperation{Name: "REMOVE", Level: level, Key: key, Timestamp: ts}
	result := n.Dispatcher.DispatchRemove(ctx, op, n.writeRequired())
	return result, applied, ts
}

// Get implements the façade-facing read path: local read, quorum fan-out,
// read-repair reconciliation against every collected response, per spec.md
// §4.6.
func (n *Node) Get(ctx context.Context, key, level string) (string, bool) {
	localValue, _, localFound := n.Store.Read(key)
	// ReadRaw, not Read, for the timestamp: a local tombstone still carries
	// a timestamp read-repair must compare against peer responses.
	localRaw, _ := n.Store.ReadRaw(key)
	localTS := localRaw.Timestamp

	op := rpc.KvOperation{Name: "GET", Level: level, Key: key}
	result := n.Dispatcher.DispatchGet(ctx, op, n.readRequired())

	candidates := readrepair.CandidatesFromQuorum(localFound, localValue, localTS, result, n.Pool.Snapshot())
	return n.Repairer.Reconcile(ctx, key, level, candidates)
}

// ─── Peer-side RPC application (spec.md §4.8) ─────────────────────────────
//
// These apply the operation locally and durably but never re-fan-out,
// since the dispatcher that sent this RPC already owns replication for
// this write — re-fanning out here would amplify without bound.

// ApplyRemoteAdd applies a peer-originated ADD.
func (n *Node) ApplyRemoteAdd(op rpc.KvOperation) {
	n.Store.ApplyAdd(op.Key, op.Value, op.Timestamp)
	n.AOL.Invoke("ADD", op.Level, op.Key, op.Value, true, op.Timestamp)
}

// ApplyRemoteRemove applies a peer-originated REMOVE and reports whether it
// actually transitioned the entry to tombstoned (spec.md §4.8 RemoveKv.is_removed).
func (n *Node) ApplyRemoteRemove(op rpc.KvOperation) bool {
	applied := n.Store.ApplyRemove(op.Key, op.Timestamp)
	n.AOL.Invoke("REMOVE", op.Level, op.Key, "", false, op.Timestamp)
	return applied
}

// LocalGet answers a peer's GetKv RPC from this node's own store.
func (n *Node) LocalGet(key string) rpc.GetKvResponse {
	entry, ok := n.Store.ReadRaw(key)
	if !ok {
		return rpc.GetKvResponse{Found: false}
	}
	return rpc.GetKvResponse{
		Value:     entry.Value,
		HasValue:  entry.Live,
		Timestamp: entry.Timestamp,
		Found:     entry.Live,
	}
}

// ─── Cluster management (spec.md §4.7) ────────────────────────────────────

// HandleJoin is the seed-side handler for a ClusterManagement.Join RPC.
// callerAddr is the new node's derived RPC address (the HTTP transport's
// stand-in for "the connection's remote endpoint" spec.md §4.7 describes).
func (n *Node) HandleJoin(ctx context.Context, callerAddr string) rpc.JoinResponse {
	// Addrs must be captured before ConnMake(callerAddr) below: the returned
	// list is handed back to the joining node for BulkConnMake, and it must
	// not include the joiner itself (ground-truth original_source/src/cluster.rs
	// get_ips() runs before conn_make(client_addr_str) for the same reason).
	// Getting this backwards makes every node dial itself, and a self-RPC
	// then silently satisfies quorum on its own.
	addrs := n.Pool.Addrs()

	n.Pool.Gossip(ctx, callerAddr)
	n.Pool.ConnMake(callerAddr)

	snapshot := n.Store.ExportSnapshot()
	data := make([]rpc.KvData, 0, len(snapshot))
	for _, e := range snapshot {
		data = append(data, rpc.KvData{Key: e.Key, Value: e.Value, Timestamp: e.Timestamp, Valid: e.Live})
	}

	n.log.Info().Str("peer", callerAddr).Int("peers", len(addrs)).Msg("handled join")
	return rpc.JoinResponse{Message: "ok", Addresses: addrs, StoreData: data}
}

// HandleAddNode is the handler for a gossiped ClusterManagement.AddNode RPC:
// dial the newly announced peer and cache the connection.
func (n *Node) HandleAddNode(ip string) {
	n.Pool.ConnMake(ip)
	n.log.Info().Str("peer", ip).Msg("added gossiped peer")
}

// HandleRemoveNode is the handler for a ClusterManagement.RemoveNode RPC:
// evict the departing peer from the pool.
func (n *Node) HandleRemoveNode(addr string) error {
	if err := n.Pool.Remove(addr); err != nil {
		return fmt.Errorf("node: remove-node: %w", err)
	}
	n.log.Info().Str("peer", addr).Msg("peer left")
	return nil
}

// Join bootstraps this node's membership and store from seedAddr, per
// spec.md §4.7: dial the seed, receive (peer addresses, store snapshot),
// bulk-dial every returned address, import the snapshot.
func (n *Node) Join(ctx context.Context, seedAddr string) error {
	addrs, entries, err := n.Pool.Join(ctx, seedAddr)
	if err != nil {
		return err
	}
	n.Pool.BulkConnMake(addrs)
	n.Store.ImportSnapshot(entries)
	n.log.Info().Str("seed", seedAddr).Int("peers", len(addrs)).Int("entries", len(entries)).Msg("joined cluster")
	return nil
}

// Leave gracefully departs the cluster, per spec.md §4.7: notify every
// peer, then return so the caller can shut the HTTP server down.
func (n *Node) Leave(ctx context.Context) {
	n.Pool.Leave(ctx, n.cfg.SelfAddr)
	n.log.Info().Msg("left cluster")
}
