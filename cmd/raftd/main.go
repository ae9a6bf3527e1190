// Command raftd runs one replica of the consensus engine: it wires
// internal/config, internal/driver, internal/logstore,
// internal/statemachine, internal/transport/raftrpc, internal/metrics
// and internal/httpapi into a running process, the way the teacher's
// own node.go/rpc.go wire a replica together but split across a cobra
// root command instead of a single func main (the teacher's own go.mod
// declares spf13/cobra but the retrieved files never reach their
// cmd/ entrypoint).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/leifraft/raft/internal/config"
	"github.com/leifraft/raft/internal/driver"
	"github.com/leifraft/raft/internal/httpapi"
	"github.com/leifraft/raft/internal/logstore"
	"github.com/leifraft/raft/internal/metrics"
	"github.com/leifraft/raft/internal/raft"
	"github.com/leifraft/raft/internal/statemachine"
	"github.com/leifraft/raft/internal/transport/raftrpc"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "raftd",
		Short: "Run a replica of the raft consensus engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (env vars prefixed RAFTD_ always override it)")
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the replica and block until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().
		Timestamp().
		Uint64("node_id", cfg.NodeID).
		Logger()
	log.Logger = logger

	engineCfg := cfg.EngineConfig()
	engineCfg.Logger = logger

	voteFile, err := logstore.OpenVoteFile(cfg.DataDir + "/vote.dat")
	if err != nil {
		return fmt.Errorf("raftd: open vote file: %w", err)
	}
	logStore, err := logstore.Open(cfg.DataDir + "/log.dat")
	if err != nil {
		return fmt.Errorf("raftd: open log store: %w", err)
	}
	snapFile, err := logstore.OpenSnapshotFile(cfg.DataDir + "/snapshot.dat")
	if err != nil {
		return fmt.Errorf("raftd: open snapshot file: %w", err)
	}
	snapshot, err := snapFile.Load()
	if err != nil {
		return fmt.Errorf("raftd: load snapshot: %w", err)
	}

	voters := raft.NewNodeIDSet()
	for id := range cfg.Peers {
		voters[raft.NodeID(id)] = struct{}{}
	}
	voters[raft.NodeID(cfg.NodeID)] = struct{}{}
	initialMembership := raft.NewUniformMembership(voters, nil)

	var snapMeta *raft.SnapshotMeta
	if snapshot != nil {
		snapMeta = &snapshot.Meta
	}
	engine, err := driver.LoadEngine(ctx, engineCfg, logStore, voteFile, snapMeta, initialMembership)
	if err != nil {
		return fmt.Errorf("raftd: load engine: %w", err)
	}

	sm := statemachine.New()
	if snapshot != nil {
		if err := sm.InstallSnapshot(ctx, snapshot.Meta, snapshot.Data); err != nil {
			return fmt.Errorf("raftd: restore snapshot: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	metricsSink := metrics.NewPrometheus(registry, raft.NodeID(cfg.NodeID))

	peerAddrs := make(map[raft.NodeID]string, len(cfg.Peers))
	for id, addr := range cfg.Peers {
		peerAddrs[raft.NodeID(id)] = addr
	}
	transport := raftrpc.NewTransport(func(target raft.NodeID) (string, error) {
		addr, ok := peerAddrs[target]
		if !ok {
			return "", fmt.Errorf("raftd: no address configured for peer %d", target)
		}
		return addr, nil
	}, logger)
	defer transport.Close()

	drv := driver.New(driver.Config{
		Engine:         engineCfg,
		TickInterval:   time.Duration(cfg.TickIntervalMS) * time.Millisecond,
		MetricsPeriod:  time.Duration(cfg.MetricsPeriodMS) * time.Millisecond,
		LeaseCacheSize: cfg.LeaseCacheSize,
	}, engine, logStore, voteFile, snapFile, sm, transport, metricsSink, logger)

	drv.Start()
	defer drv.Stop()

	grpcServer := raftrpc.NewServer(driver.NewServer(drv))
	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("raftd: listen %s: %w", cfg.ListenAddr, err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("raft grpc server stopped")
		}
	}()
	defer grpcServer.GracefulStop()

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.New(drv, sm).Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	defer httpServer.Shutdown(context.Background())

	logger.Info().Str("listen", cfg.ListenAddr).Str("http", cfg.HTTPAddr).Msg("raftd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	logger.Info().Msg("raftd shutting down")
	return nil
}
