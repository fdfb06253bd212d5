// Package readrepair reconciles divergent replicas on the read path, per
// spec.md §4.6.
//
// Modeled on the teacher's internal/cluster.Replicator.reconcile/readRepair
// pair, generalized from vector-clock comparison to physical-timestamp
// comparison (spec.md §1 excludes vector clocks as a non-goal) and from
// "stale nodes by ID, repair by re-running the hash ring lookup" to
// "stale responses carry their own peer client, repair goes straight back
// to it".
package readrepair

import (
	"context"

	"github.com/rs/zerolog"

	"distributed-kvstore/internal/quorum"
	"distributed-kvstore/internal/rpc"
	"distributed-kvstore/internal/store"
	"distributed-kvstore/internal/timestamp"
)

// LocalSource identifies the synthetic "local" entry in the response set
// so Reconcile can route its own repairs straight through the Store
// instead of issuing a loopback RPC.
const LocalSource = "local"

// Candidate is one response to reconcile: either the local node's own
// state or one peer's GetKv response.
type Candidate struct {
	Source    string // peer address, or LocalSource
	Found     bool
	Value     string
	Timestamp timestamp.Timestamp
	Client    *rpc.PeerClient // nil for LocalSource
}

// Repairer reconciles read responses and fires corrective writes at stale
// replicas.
type Repairer struct {
	store *store.Store
	log   zerolog.Logger
}

// New creates a Repairer bound to the local store, used for same-node
// corrective writes.
func New(s *store.Store, log zerolog.Logger) *Repairer {
	return &Repairer{store: s, log: log.With().Str("component", "readrepair").Logger()}
}

// Reconcile implements spec.md §4.6: find the max timestamp across all
// candidates, treat any response at that timestamp as authoritative,
// asynchronously repair every strictly-older or missing responder, and
// return the authoritative value (or not-found if nothing carries a
// timestamp, or the authoritative response is a tombstone).
func (r *Repairer) Reconcile(ctx context.Context, key, level string, candidates []Candidate) (value string, found bool) {
	var maxTS timestamp.Timestamp
	haveMax := false
	var authoritative Candidate

	for _, c := range candidates {
		if !haveCandidateTimestamp(c) {
			continue
		}
		if !haveMax || c.Timestamp.After(maxTS) {
			maxTS = c.Timestamp
			authoritative = c
			haveMax = true
		}
	}

	if !haveMax {
		return "", false
	}

	var stale []Candidate
	for _, c := range candidates {
		if !haveCandidateTimestamp(c) || c.Timestamp.Before(maxTS) {
			stale = append(stale, c)
		}
	}

	if len(stale) > 0 {
		go r.repairAll(context.Background(), key, level, authoritative, maxTS, stale)
	}

	if !authoritative.Found {
		return "", false
	}
	return authoritative.Value, true
}

// haveCandidateTimestamp reports whether a candidate carries any
// timestamp at all. A candidate without one (a responder holding no entry
// for the key) contributes nothing to the max but is repaired like any
// strictly-older responder. A peer RPC that failed outright never reaches
// Reconcile: CandidatesFromQuorum drops it.
func haveCandidateTimestamp(c Candidate) bool {
	return c.Timestamp != (timestamp.Timestamp{}) || c.Found
}

// repairAll dispatches one corrective operation per stale candidate.
// Corrective writes are fire-and-forget; their failure does not affect the
// response already returned to the client (spec.md §4.6).
func (r *Repairer) repairAll(ctx context.Context, key, level string, authoritative Candidate, maxTS timestamp.Timestamp, stale []Candidate) {
	for _, c := range stale {
		if c.Source == LocalSource {
			r.repairLocal(key, authoritative, maxTS)
			continue
		}
		if c.Client == nil {
			continue
		}
		r.repairRemote(ctx, c.Client, key, level, authoritative, maxTS)
	}
}

func (r *Repairer) repairLocal(key string, authoritative Candidate, maxTS timestamp.Timestamp) {
	if authoritative.Found {
		r.store.ApplyAdd(key, authoritative.Value, maxTS)
	} else {
		r.store.ApplyRemove(key, maxTS)
	}
}

func (r *Repairer) repairRemote(ctx context.Context, client *rpc.PeerClient, key, level string, authoritative Candidate, maxTS timestamp.Timestamp) {
	op := rpc.KvOperation{Key: key, Level: level, Timestamp: maxTS}
	var err error
	if authoritative.Found {
		op.Name = "ADD"
		op.Value = authoritative.Value
		op.HasValue = true
		_, err = client.AddKv(ctx, op)
	} else {
		op.Name = "REMOVE"
		_, err = client.RemoveKv(ctx, op)
	}
	if err != nil {
		r.log.Info().Err(err).Str("key", key).Msg("read-repair corrective write failed, best-effort")
	}
}

// CandidatesFromQuorum adapts a quorum.Result plus the local response into
// the Candidate slice Reconcile expects. addrToClient resolves a peer
// address back to its *rpc.PeerClient for remote repairs.
func CandidatesFromQuorum(localFound bool, localValue string, localTS timestamp.Timestamp, result quorum.Result, addrToClient map[string]*rpc.PeerClient) []Candidate {
	candidates := make([]Candidate, 0, len(result.Responses)+1)
	candidates = append(candidates, Candidate{
		Source:    LocalSource,
		Found:     localFound,
		Value:     localValue,
		Timestamp: localTS,
	})
	for _, resp := range result.Responses {
		if !resp.Success {
			continue
		}
		candidates = append(candidates, Candidate{
			Source:    resp.Addr,
			Found:     resp.GetResult.Found,
			Value:     resp.GetResult.Value,
			Timestamp: resp.GetResult.Timestamp,
			Client:    addrToClient[resp.Addr],
		})
	}
	return candidates
}
