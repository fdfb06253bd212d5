// Package peerpool maintains the set of live peer connections and drives
// gossip-based membership (spec.md §4.4).
//
// Modeled on the teacher's internal/cluster membership bookkeeping
// (internal/cluster/membership.go), generalized from "static membership plus
// a consistent-hash ring" to "every node replicates every key" — there is no
// ring here because spec.md explicitly excludes sharding/partitioning.
package peerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"distributed-kvstore/internal/rpc"
	"distributed-kvstore/internal/store"
)

// Pool is a keyed cache of peer connections, protected by a single
// read-write lock per spec.md §4.4/§5. Fan-out operations snapshot the
// channel (here: *rpc.PeerClient) set under a read lock and release it
// before awaiting any RPC.
type Pool struct {
	mu    sync.RWMutex
	peers map[string]*rpc.PeerClient

	dialTimeout time.Duration
	log         zerolog.Logger
}

// New creates an empty Pool.
func New(log zerolog.Logger, dialTimeout time.Duration) *Pool {
	return &Pool{
		peers:       make(map[string]*rpc.PeerClient),
		dialTimeout: dialTimeout,
		log:         log.With().Str("component", "peerpool").Logger(),
	}
}

// ConnMake returns a cached client if present (fast path under a shared
// read lock). Otherwise it upgrades to an exclusive lock, re-checks, dials,
// inserts, and returns — the double-checked pattern spec.md §4.4 requires
// so concurrent first-touch callers for the same unknown addr share one
// dial.
func (p *Pool) ConnMake(addr string) *rpc.PeerClient {
	p.mu.RLock()
	if c, ok := p.peers[addr]; ok {
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.peers[addr]; ok {
		return c
	}

	c := rpc.NewPeerClient(addr, p.dialTimeout)
	p.peers[addr] = c
	p.log.Debug().Str("peer", addr).Msg("dialed new peer connection")
	return c
}

// BulkConnMake dials every address in parallel. Failed dials can't happen
// at construction time (HTTP clients never fail to construct), but this
// mirrors spec.md §4.4's bulk_conn_make shape so Join can use it uniformly;
// it is where a future retrying transport would plug in error handling.
func (p *Pool) BulkConnMake(addrs []string) {
	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(a string) {
			defer wg.Done()
			p.ConnMake(a)
		}(addr)
	}
	wg.Wait()
}

// Remove evicts addr from the pool. Returns an error if addr was not
// present, per spec.md §4.4.
func (p *Pool) Remove(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.peers[addr]; !ok {
		return fmt.Errorf("peerpool: %s not present", addr)
	}
	delete(p.peers, addr)
	return nil
}

// Addrs returns a snapshot of the current peer address set.
func (p *Pool) Addrs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.peers))
	for addr := range p.peers {
		out = append(out, addr)
	}
	return out
}

// Snapshot returns a copy of the current addr -> client map, for fan-out
// callers (quorum dispatcher, read-repair) that need both.
func (p *Pool) Snapshot() map[string]*rpc.PeerClient {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]*rpc.PeerClient, len(p.peers))
	for addr, c := range p.peers {
		out[addr] = c
	}
	return out
}

// Leave sends RemoveNode to every peer in parallel and waits for all of
// them to complete. Failures are logged; shutdown proceeds regardless
// (spec.md §4.4/§4.7).
func (p *Pool) Leave(ctx context.Context, selfAddr string) {
	peers := p.Snapshot()
	var wg sync.WaitGroup
	for addr, c := range peers {
		wg.Add(1)
		go func(addr string, c *rpc.PeerClient) {
			defer wg.Done()
			if _, err := c.RemoveNode(ctx, selfAddr); err != nil {
				p.log.Warn().Err(err).Str("peer", addr).Msg("leave: RemoveNode failed")
			}
		}(addr, c)
	}
	wg.Wait()
}

// Gossip sends AddNode(newAddr) to every peer in parallel, fire-and-log.
func (p *Pool) Gossip(ctx context.Context, newAddr string) {
	peers := p.Snapshot()
	var wg sync.WaitGroup
	for addr, c := range peers {
		wg.Add(1)
		go func(addr string, c *rpc.PeerClient) {
			defer wg.Done()
			if _, err := c.AddNode(ctx, newAddr); err != nil {
				p.log.Warn().Err(err).Str("peer", addr).Msg("gossip: AddNode failed")
			}
		}(addr, c)
	}
	wg.Wait()
}

// Join dials seedAddr, issues the Join RPC, and returns the seed's
// advertised peer list and store snapshot. The caller (internal/node) is
// responsible for bulk-dialing the returned addresses and importing the
// snapshot into its Store, per spec.md §4.7.
func (p *Pool) Join(ctx context.Context, seedAddr string) ([]string, []store.SnapshotEntry, error) {
	seed := p.ConnMake(seedAddr)
	resp, err := seed.Join(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("peerpool: join via seed %s: %w", seedAddr, err)
	}

	entries := make([]store.SnapshotEntry, 0, len(resp.StoreData))
	for _, d := range resp.StoreData {
		entries = append(entries, store.SnapshotEntry{
			Key: d.Key,
			Entry: store.Entry{
				Value:     d.Value,
				Timestamp: d.Timestamp,
				Live:      d.Valid,
			},
		})
	}
	return resp.Addresses, entries, nil
}
