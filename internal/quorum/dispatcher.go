// Package quorum fans reads and writes out to peers and returns as soon as
// enough of them have voted, per spec.md §4.5.
//
// Modeled on the teacher's internal/cluster.Replicator fan-out loop
// (ReplicateWrite/CoordinateRead), generalized from "N replicas selected by
// consistent hashing" to "every live peer is a replica" (spec.md §1: "Each
// node holds the full keyspace; replicas are all other live peers").
package quorum

import (
	"context"

	"github.com/rs/zerolog"

	"distributed-kvstore/internal/peerpool"
	"distributed-kvstore/internal/rpc"
)

// Response is one peer's answer to a dispatched operation, normalized
// across the three RPC kinds so Dispatch and its caller (read-repair) can
// treat them uniformly.
type Response struct {
	Addr      string
	Success   bool
	GetResult rpc.GetKvResponse // only meaningful when the dispatched op was GET
	Err       error
}

// Result is what Dispatch returns: every response collected (successes and
// failures alike, for read-repair to reconcile against) plus whether the
// quorum target was met.
type Result struct {
	Responses      []Response
	QuorumAchieved bool
	Required       int // R = quorum - 1, the peer votes needed beyond the local one
	Attempted      int
}

// Dispatcher fans operations out to the peer pool.
type Dispatcher struct {
	pool *peerpool.Pool
	log  zerolog.Logger
}

// New creates a Dispatcher bound to pool.
func New(pool *peerpool.Pool, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{pool: pool, log: log.With().Str("component", "quorum").Logger()}
}

// rpcCall is what each fan-out goroutine invokes against one peer.
type rpcCall func(ctx context.Context, c *rpc.PeerClient) Response

// dispatch is the shared fan-out core: snapshot peers under the pool's read
// lock (peerpool.Snapshot already does this), start one goroutine per peer,
// collect via a completion channel, and return as soon as `required`
// successes accumulate — outstanding goroutines keep running in the
// background (spec.md §4.5 step 3).
func (d *Dispatcher) dispatch(ctx context.Context, required int, call rpcCall) Result {
	peers := d.pool.Snapshot()
	results := make(chan Response, len(peers))

	for addr, c := range peers {
		go func(addr string, c *rpc.PeerClient) {
			r := call(ctx, c)
			r.Addr = addr
			results <- r
		}(addr, c)
	}

	res := Result{Required: required, Attempted: len(peers)}

	// required <= 0 means the local vote alone already satisfies the quorum
	// (spec.md §4.5: R = quorum - 1). Peer RPCs were still launched above —
	// they replicate the write/read for convergence — but the dispatcher
	// does not wait on any of them before returning.
	if required <= 0 {
		res.QuorumAchieved = true
		return res
	}

	successes := 0
	for i := 0; i < len(peers); i++ {
		r := <-results
		res.Responses = append(res.Responses, r)
		if r.Success {
			successes++
			if successes >= required {
				res.QuorumAchieved = true
				// Remaining goroutines already launched continue in the
				// background and still deliver into `results`; since this
				// channel is buffered to len(peers), they will never block
				// even though nobody drains further. This is the
				// documented "stragglers still apply their writes" behavior
				// from spec.md §4.5 step 3.
				return res
			}
		}
	}

	res.QuorumAchieved = successes >= required
	return res
}

// DispatchAdd fans an ADD out to every peer.
func (d *Dispatcher) DispatchAdd(ctx context.Context, op rpc.KvOperation, required int) Result {
	return d.dispatch(ctx, required, func(ctx context.Context, c *rpc.PeerClient) Response {
		_, err := c.AddKv(ctx, op)
		if err != nil {
			d.log.Info().Err(err).Str("op", "ADD").Msg("peer rpc failed, counted as non-vote")
			return Response{Success: false, Err: err}
		}
		return Response{Success: true}
	})
}

// DispatchRemove fans a REMOVE out to every peer.
func (d *Dispatcher) DispatchRemove(ctx context.Context, op rpc.KvOperation, required int) Result {
	return d.dispatch(ctx, required, func(ctx context.Context, c *rpc.PeerClient) Response {
		resp, err := c.RemoveKv(ctx, op)
		if err != nil {
			d.log.Info().Err(err).Str("op", "REMOVE").Msg("peer rpc failed, counted as non-vote")
			return Response{Success: false, Err: err}
		}
		return Response{Success: true, GetResult: rpc.GetKvResponse{Found: resp.IsRemoved}}
	})
}

// DispatchGet fans a GET out to every peer. A peer's response counts as a
// vote regardless of whether the key was found on it — read-repair needs
// every response, found or not, to compute the authoritative timestamp.
func (d *Dispatcher) DispatchGet(ctx context.Context, op rpc.KvOperation, required int) Result {
	return d.dispatch(ctx, required, func(ctx context.Context, c *rpc.PeerClient) Response {
		resp, err := c.GetKv(ctx, op)
		if err != nil {
			d.log.Info().Err(err).Str("op", "GET").Msg("peer rpc failed, counted as non-vote")
			return Response{Success: false, Err: err}
		}
		return Response{Success: true, GetResult: resp}
	})
}
