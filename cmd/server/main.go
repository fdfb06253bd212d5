// cmd/server is the main entrypoint for a KV store node.
//
// Configuration is read by Viper from flags and environment variables
// (prefixed KVSTORE_); no config file is read. A single binary can serve
// any role in the cluster.
//
// Example — single node, fresh start:
//
//	./server --addr :8080 --rpc-port 9090 --data-dir /var/kvstore/node1 --fresh-start
//
// Example — second node joining via a seed:
//
//	./server --addr :8081 --rpc-port 9091 --data-dir /tmp/n2 --seed localhost:9090
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"distributed-kvstore/internal/aol"
	"distributed-kvstore/internal/api"
	"distributed-kvstore/internal/node"
	"distributed-kvstore/internal/store"
)

func main() {
	cmd := rootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run a distributed KV store node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "external HTTP façade listen address")
	flags.String("rpc-port", "9090", "peer RPC port, uniform across the cluster")
	flags.String("data-dir", "/tmp/kvstore", "directory for the append-only log")
	flags.String("seed", "", "seed node address (host:rpc-port) to join on startup; empty for the first node")
	flags.Bool("fresh-start", false, "truncate the append-only log and start with an empty store")
	flags.String("replay-log", "", "optional replay log path copied into the canonical AOL path before opening")
	flags.Int("read-quorum", 1, "read quorum (local vote counts as one)")
	flags.Int("write-quorum", 1, "write quorum (local vote counts as one)")
	flags.Duration("flush-interval", aol.DefaultFlushInterval, "AOL flush interval")
	flags.Duration("dial-timeout", 5*time.Second, "peer RPC dial/request timeout")
	flags.String("log-level", "info", "zerolog level: debug, info, warn, error")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("kvstore")
	v.AutomaticEnv()

	return cmd
}

func run(v *viper.Viper) error {
	level, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log-level: %w", err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	addr := v.GetString("addr")
	rpcPort := v.GetString("rpc-port")
	dataDir := v.GetString("data-dir")
	seed := v.GetString("seed")
	freshStart := v.GetBool("fresh-start")
	replayLog := v.GetString("replay-log")
	readQuorum := v.GetInt("read-quorum")
	writeQuorum := v.GetInt("write-quorum")
	flushInterval := v.GetDuration("flush-interval")
	dialTimeout := v.GetDuration("dial-timeout")

	if freshStart && replayLog != "" {
		return fmt.Errorf("fresh-start and replay-log are mutually exclusive")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data-dir: %w", err)
	}

	s := store.New(log)

	a, err := aol.Open(aol.Config{
		Path:          filepath.Join(dataDir, "aol.log"),
		FlushInterval: flushInterval,
		FreshStart:    freshStart,
		ReplayLogPath: replayLog,
	}, log)
	if err != nil {
		return fmt.Errorf("open aol: %w", err)
	}
	defer a.Close()

	if !freshStart {
		records, err := aol.ReadAll(filepath.Join(dataDir, "aol.log"), log)
		if err != nil {
			return fmt.Errorf("replay aol: %w", err)
		}
		replayRecords := make([]store.ReplayRecord, len(records))
		for i, r := range records {
			replayRecords[i] = r
		}
		if err := s.Replay(replayRecords); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		log.Info().Int("records", len(records)).Msg("replayed aol")
	}

	selfRPCAddr := selfAddr(addr, rpcPort)
	n := node.New(node.Config{
		SelfAddr:    selfRPCAddr,
		ReadQuorum:  readQuorum,
		WriteQuorum: writeQuorum,
		DialTimeout: dialTimeout,
	}, log, s, a)

	if seed != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := n.Join(ctx, seed)
		cancel()
		if err != nil {
			return fmt.Errorf("join via seed %s: %w", seed, err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(n, rpcPort)

	// The façade and the peer RPC surface bind two distinct listeners per
	// spec.md §6: the façade's --addr is the node's external client port,
	// while --rpc-port is the uniform cluster-internal port every peer
	// dials (selfAddr, RPCJoin's caller-address derivation, and every
	// PeerClient all assume something is actually listening there).
	facadeRouter := gin.New()
	facadeRouter.Use(api.Logger(log), api.Recovery(log))
	handler.RegisterFacade(facadeRouter)
	facadeRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "peers": len(n.Pool.Addrs())})
	})

	rpcRouter := gin.New()
	rpcRouter.Use(api.Logger(log), api.Recovery(log))
	handler.RegisterRPC(rpcRouter)

	srv := &http.Server{
		Addr:         addr,
		Handler:      facadeRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	rpcSrv := &http.Server{
		Addr:         ":" + rpcPort,
		Handler:      rpcRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("façade listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("façade server error")
		}
	}()
	go func() {
		log.Info().Str("rpc_addr", selfRPCAddr).Msg("peer rpc listening")
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("rpc server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	n.Leave(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("façade server shutdown error")
	}
	if err := rpcSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("rpc server shutdown error")
	}
	return nil
}

// selfAddr derives this node's advertised RPC address from the façade's
// listen address, substituting the uniform peer RPC port (spec.md §6).
func selfAddr(httpAddr, rpcPort string) string {
	host := httpAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			host = host[:i]
			break
		}
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host + ":" + rpcPort
}
