package driver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/leifraft/raft/internal/logstore"
	"github.com/leifraft/raft/internal/raft"
	"github.com/leifraft/raft/internal/statemachine"
)

// benchEngineConfig mirrors original_source/cluster_benchmark/tests/benchmark/bench_cluster.rs's
// BenchConfig: short timeouts tuned so a fresh in-process cluster
// converges on a leader quickly rather than the production-sized
// defaults in internal/raft.DefaultEngineConfig.
func benchEngineConfig(id raft.NodeID) raft.EngineConfig {
	return raft.EngineConfig{
		ID:                      id,
		ElectionTimeoutMin:      30 * time.Millisecond,
		ElectionTimeoutMax:      60 * time.Millisecond,
		HeartbeatInterval:       10 * time.Millisecond,
		MaxPayloadEntries:       64,
		PurgeBatchSize:          256,
		SnapshotThreshold:       1 << 30, // effectively disabled for the benchmark
		MaxInSnapshotLogToKeep:  200,
		ReplicationLagThreshold: 1000,
		Logger:                  zerolog.Nop(),
	}
}

// newCluster spins up n in-process nodes wired together through a
// TestRouter (no real sockets), each with a file-backed log/vote store
// under the benchmark's temp dir, mirroring bench_cluster.rs's
// Router::new_cluster.
func newCluster(b testing.TB, n int) (*TestRouter, []*Driver) {
	b.Helper()
	ctx := context.Background()

	voters := raft.NewNodeIDSet()
	for i := 1; i <= n; i++ {
		voters[raft.NodeID(i)] = struct{}{}
	}
	initial := raft.NewUniformMembership(voters, nil)

	router := NewTestRouter()
	drivers := make([]*Driver, 0, n)
	for i := 1; i <= n; i++ {
		id := raft.NodeID(i)
		dir := b.TempDir()

		voteFile, err := logstore.OpenVoteFile(dir + "/vote.dat")
		if err != nil {
			b.Fatalf("open vote file: %v", err)
		}
		logStore, err := logstore.Open(dir + "/log.dat")
		if err != nil {
			b.Fatalf("open log store: %v", err)
		}

		cfg := benchEngineConfig(id)
		engine, err := LoadEngine(ctx, cfg, logStore, voteFile, nil, initial)
		if err != nil {
			b.Fatalf("load engine %d: %v", id, err)
		}

		drv := New(Config{Engine: cfg, TickInterval: 2 * time.Millisecond}, engine, logStore, voteFile, nil, statemachine.New(), router, nil, zerolog.Nop())
		router.Register(id, NewServer(drv))
		drivers = append(drivers, drv)
	}

	for _, drv := range drivers {
		drv.Start()
	}
	b.Cleanup(func() {
		for _, drv := range drivers {
			drv.Stop()
		}
	})

	return router, drivers
}

// awaitLeader polls the cluster until exactly one driver reports
// ServerStateLeader, or fails the benchmark after timeout — election
// is real wall-clock time here (the tick loop runs on a real ticker),
// there is no fake clock to advance.
func awaitLeader(b testing.TB, drivers []*Driver, timeout time.Duration) *Driver {
	b.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, drv := range drivers {
			drv.mu.Lock()
			state := drv.engine.State.ServerState
			drv.mu.Unlock()
			if state == raft.ServerStateLeader {
				return drv
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	b.Fatal("no leader elected before timeout")
	return nil
}

// benchmarkClusterPropose drives repeated client proposals against a
// freshly-elected leader of an n-node cluster, the Go-benchmark
// analogue of bench_cluster.rs's bench_cluster_of_{1,3,5}: each
// proposal round-trips replication to a quorum before b.N advances.
func benchmarkClusterPropose(b *testing.B, n int) {
	_, drivers := newCluster(b, n)
	leader := awaitLeader(b, drivers, 2*time.Second)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := leader.Propose(ctx, []byte(fmt.Sprintf("bench-%d", i)))
		cancel()
		if err != nil {
			b.Fatalf("propose %d: %v", i, err)
		}
	}
}

func BenchmarkClusterPropose_1(b *testing.B) { benchmarkClusterPropose(b, 1) }
func BenchmarkClusterPropose_3(b *testing.B) { benchmarkClusterPropose(b, 3) }
func BenchmarkClusterPropose_5(b *testing.B) { benchmarkClusterPropose(b, 5) }
