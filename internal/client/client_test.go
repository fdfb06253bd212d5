package client_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"distributed-kvstore/internal/client"
)

func TestPutGetDeleteRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/kv/a", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.Write([]byte(`{"key":"a","value":"1","quorum_achieved":true,"votes":1}`))
		case http.MethodGet:
			w.Write([]byte(`{"key":"a","value":"1"}`))
		case http.MethodDelete:
			w.Write([]byte(`{"key":"a","removed":true,"quorum_achieved":true}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := client.New(srv.URL, time.Second)

	putResp, err := c.Put(t.Context(), "a", "1")
	require.NoError(t, err)
	require.Equal(t, "1", putResp.Value)
	require.True(t, putResp.QuorumAchieved)

	getResp, err := c.Get(t.Context(), "a")
	require.NoError(t, err)
	require.Equal(t, "1", getResp.Value)

	delResp, err := c.Delete(t.Context(), "a")
	require.NoError(t, err)
	require.True(t, delResp.Removed)
}

func TestGetNotFoundReturnsErrNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/kv/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"key not found"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := client.New(srv.URL, time.Second)
	_, err := c.Get(t.Context(), "missing")
	require.ErrorIs(t, err, client.ErrNotFound)
}

func TestJoinClusterSendsSeed(t *testing.T) {
	var gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/cluster/join", func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := client.New(srv.URL, time.Second)
	err := c.JoinCluster(t.Context(), "seed:9000")
	require.NoError(t, err)
	require.Contains(t, gotBody, "seed:9000")
}
