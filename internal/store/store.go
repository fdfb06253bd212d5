// Package store contains the core storage engine of the distributed
// key-value system.
//
// This store:
//   - Keeps data in memory (fast reads/writes)
//   - Does not persist anything itself: the caller enqueues every write on
//     the append-only log (internal/aol) and replays it through Replay
//   - Resolves conflicting writes from any source (local, replay, replica)
//     using last-writer-wins on a physical timestamp, never on arrival order
//
// Big idea:
//
//  1. Timestamp guard
//     Every entry remembers the greatest timestamp ever observed for its
//     key. A write only applies if its timestamp is strictly greater than
//     what is already stored — this is what makes replay, replication, and
//     read-repair all converge on the same answer regardless of delivery
//     order.
//
//  2. Tombstones
//     Deletes do not remove the key. They flip a live flag to false and
//     bump the timestamp, so a stale ADD arriving after a REMOVE cannot
//     resurrect the key.
//
//  3. Concurrency
//     A single sync.RWMutex plus per-key locking would be overkill for the
//     scale this spec targets; we shard the map so distinct keys mutate
//     independently while a single key still serializes through one lock.
package store

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"distributed-kvstore/internal/timestamp"
)

const shardCount = 32

// Entry is one stored record: its value (meaningless when Live is false),
// the timestamp of the mutation that produced it, and the live/tombstone
// flag.
type Entry struct {
	Value     string              `json:"value,omitempty"`
	Timestamp timestamp.Timestamp `json:"timestamp"`
	Live      bool                `json:"live"`
}

// SnapshotEntry pairs a key with its Entry for full-table export/import,
// e.g. during join bootstrap.
type SnapshotEntry struct {
	Key string `json:"key"`
	Entry
}

type shard struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// Store is a sharded, concurrent mapping from key to Entry. It is safe for
// concurrent use: distinct keys may be mutated in parallel, a single key
// serializes through its shard's mutex.
type Store struct {
	shards [shardCount]*shard
	log    zerolog.Logger
}

// New creates an empty in-memory Store. Durability and replay are handled
// by the caller (see internal/aol and internal/node), which is why Store
// itself takes no data directory — it is a pure in-memory data structure
// plus the timestamp-guarded merge rules.
func New(log zerolog.Logger) *Store {
	s := &Store{log: log.With().Str("component", "store").Logger()}
	for i := range s.shards {
		s.shards[i] = &shard{data: make(map[string]Entry)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// ApplyAdd implements spec §4.2 apply_add: unconditionally writes
// (value, timestamp, live=true) if no entry exists. If an entry exists
// with a timestamp greater-than-or-equal to ts, the write is suppressed.
// Otherwise the existing entry is overwritten. Returns whether the write
// was applied.
func (s *Store) ApplyAdd(key, value string, ts timestamp.Timestamp) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.data[key]
	if ok && !ts.After(existing.Timestamp) {
		s.log.Debug().Str("key", key).Msg("add suppressed by timestamp guard")
		return false
	}

	sh.data[key] = Entry{Value: value, Timestamp: ts, Live: true}
	return true
}

// ApplyRemove implements spec §4.2 apply_remove: no-op if the key does not
// exist, is already tombstoned, or ts does not strictly exceed the stored
// timestamp. Otherwise marks the entry live=false and bumps its timestamp.
// Returns success per spec §4.8 RemoveKv.is_removed.
func (s *Store) ApplyRemove(key string, ts timestamp.Timestamp) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.data[key]
	if !ok {
		return false
	}
	if !existing.Live {
		return false
	}
	if !ts.After(existing.Timestamp) {
		return false
	}

	sh.data[key] = Entry{Timestamp: ts, Live: false}
	return true
}

// Read returns the live value for key, or ok=false if the key is absent or
// tombstoned. The caller that needs tombstone visibility (quorum/read-repair)
// should use ReadRaw instead.
func (s *Store) Read(key string) (value string, ts timestamp.Timestamp, ok bool) {
	entry, found := s.ReadRaw(key)
	if !found || !entry.Live {
		return "", entry.Timestamp, false
	}
	return entry.Value, entry.Timestamp, true
}

// ReadRaw returns the stored Entry exactly as it exists, including
// tombstones, so the quorum dispatcher and read-repair can compare
// timestamps across replicas even when the value is a tombstone.
func (s *Store) ReadRaw(key string) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.data[key]
	return e, ok
}

// ExportSnapshot returns the full table, including tombstones. Consistent
// in the sense that every returned entry reflects a state the store was in
// at some point during the scan; no cross-key atomicity is required or
// provided.
func (s *Store) ExportSnapshot() []SnapshotEntry {
	var out []SnapshotEntry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, v := range sh.data {
			out = append(out, SnapshotEntry{Key: k, Entry: v})
		}
		sh.mu.RUnlock()
	}
	return out
}

// ImportSnapshot merges each entry using the same timestamp rule as
// ApplyAdd/ApplyRemove: a strictly greater timestamp wins, ties keep the
// existing entry.
func (s *Store) ImportSnapshot(entries []SnapshotEntry) {
	for _, e := range entries {
		if e.Live {
			s.ApplyAdd(e.Key, e.Value, e.Timestamp)
		} else {
			s.mergeTombstone(e.Key, e.Timestamp)
		}
	}
}

// mergeTombstone applies an imported tombstone using the timestamp guard,
// independent of whether the key is currently live (ApplyRemove refuses to
// re-tombstone an already-dead key, which would wrongly drop a tombstone
// import whose timestamp is newer than a stale local tombstone).
func (s *Store) mergeTombstone(key string, ts timestamp.Timestamp) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.data[key]
	if ok && !ts.After(existing.Timestamp) {
		return
	}
	sh.data[key] = Entry{Timestamp: ts, Live: false}
}

// Keys returns all keys that are currently live (not tombstoned).
func (s *Store) Keys() []string {
	var keys []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, v := range sh.data {
			if v.Live {
				keys = append(keys, k)
			}
		}
		sh.mu.RUnlock()
	}
	return keys
}

// ReplayRecord is the minimal shape Replay needs from a parsed AOL line;
// aol.Record satisfies this.
type ReplayRecord interface {
	Op() string
	RecordKey() string
	RecordValue() (string, bool)
	RecordTimestamp() timestamp.Timestamp
}

// Replay deterministically applies records using ApplyAdd/ApplyRemove (with
// the timestamp guard), in the order given. Malformed records are the
// caller's (aol parser's) concern — Replay assumes records are already
// well-formed and just applies them.
func (s *Store) Replay(records []ReplayRecord) error {
	for _, r := range records {
		switch r.Op() {
		case "ADD":
			value, ok := r.RecordValue()
			if !ok {
				return fmt.Errorf("replay: ADD record for key %q missing value", r.RecordKey())
			}
			s.ApplyAdd(r.RecordKey(), value, r.RecordTimestamp())
		case "REMOVE":
			s.ApplyRemove(r.RecordKey(), r.RecordTimestamp())
		default:
			return fmt.Errorf("replay: unknown operation %q", r.Op())
		}
	}
	return nil
}
