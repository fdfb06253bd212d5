package peerpool_test

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"distributed-kvstore/internal/peerpool"
	"distributed-kvstore/internal/rpc"
)

// Testable property from spec.md §8: under N concurrent ConnMake calls for
// the same unknown addr, all N calls return the same client.
func TestConnMakeConcurrentSameAddrReturnsSameClient(t *testing.T) {
	p := peerpool.New(zerolog.Nop(), 0)

	const n = 50
	clients := make([]*rpc.PeerClient, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i] = p.ConnMake("peer-1:9000")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, clients[0], clients[i])
	}
	require.Equal(t, []string{"peer-1:9000"}, p.Addrs())
}

func TestRemoveUnknownAddrErrors(t *testing.T) {
	p := peerpool.New(zerolog.Nop(), 0)
	require.Error(t, p.Remove("ghost:1"))
}

func TestRemoveEvictsEntry(t *testing.T) {
	p := peerpool.New(zerolog.Nop(), 0)
	p.ConnMake("peer-1:9000")
	require.NoError(t, p.Remove("peer-1:9000"))
	require.Empty(t, p.Addrs())
}

func TestBulkConnMakeDialsAll(t *testing.T) {
	p := peerpool.New(zerolog.Nop(), 0)
	p.BulkConnMake([]string{"a:1", "b:2", "c:3"})
	require.ElementsMatch(t, []string{"a:1", "b:2", "c:3"}, p.Addrs())
}
