// Package timestamp implements the physical wall-clock timestamps that drive
// last-writer-wins conflict resolution across the cluster.
//
// A Timestamp is assigned once, at the node that first accepts a client
// request, and travels unchanged through replication and read-repair.
// Receivers never rewrite it — only the originating node's clock matters.
package timestamp

import (
	"fmt"
	"time"
)

// Timestamp is a (seconds, nanos) pair since the Unix epoch. Two timestamps
// are totally ordered: compare Seconds first, break ties on Nanos.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// Now reads the local wall clock and returns it as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time into a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time converts the Timestamp back into a time.Time (UTC).
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

// Compare returns -1, 0, or 1 depending on whether t is before, equal to, or
// after other. Seconds are compared first; ties are broken by Nanos.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Seconds < other.Seconds:
		return -1
	case t.Seconds > other.Seconds:
		return 1
	case t.Nanos < other.Nanos:
		return -1
	case t.Nanos > other.Nanos:
		return 1
	default:
		return 0
	}
}

// Before reports whether t sorts strictly before other.
func (t Timestamp) Before(other Timestamp) bool { return t.Compare(other) < 0 }

// After reports whether t sorts strictly after other.
func (t Timestamp) After(other Timestamp) bool { return t.Compare(other) > 0 }

// Equal reports whether t and other represent the same instant.
func (t Timestamp) Equal(other Timestamp) bool { return t.Compare(other) == 0 }

// Max returns whichever of t and other sorts later. Ties keep t.
func Max(t, other Timestamp) Timestamp {
	if other.After(t) {
		return other
	}
	return t
}

// RFC3339 renders the timestamp the way the AOL on-disk format requires:
// RFC 3339 with nanosecond precision, e.g. 2024-01-15T12:34:56.123456789Z.
// Truncating to millisecond precision (as the spec's own prose example does)
// would lose the sub-millisecond nanos that can distinguish two otherwise
// close writes, flipping last-writer-wins ordering across an AOL round-trip
// (spec invariant 4 / §8) — so the full nanosecond field is kept on disk.
func (t Timestamp) RFC3339() string {
	return t.Time().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// ParseRFC3339 parses the AOL's on-disk timestamp representation back into
// a Timestamp.
func ParseRFC3339(s string) (Timestamp, error) {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return FromTime(parsed), nil
}

// String implements fmt.Stringer for log lines.
func (t Timestamp) String() string {
	return t.RFC3339()
}
