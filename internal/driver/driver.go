// Package driver wires internal/raft.Engine to real I/O: log
// persistence, state machine application, network transport, and a
// clock. Replication runs in one goroutine per follower that reports
// back to the engine through completion events; log writes and
// state-machine application run inline, under the engine lock, while
// the commands of a Step are executed. It uses the teacher's own
// concurrency idiom (an embedded sync.Mutex guarding shared state,
// goroutines fanned out per peer) rather than a channel-actor runtime:
// the mutex IS the single task that serializes all access to the engine.
package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/leifraft/raft/internal/raft"
)

// Config bundles the tunables a running Driver needs beyond the
// engine's own EngineConfig.
type Config struct {
	Engine        raft.EngineConfig
	TickInterval  time.Duration
	MetricsPeriod time.Duration
	// LeaseCacheSize bounds the per-term lease-confirmation cache
	// ReadIndex consults (SPEC_FULL.md §12). 0 defaults to 1024.
	LeaseCacheSize int
	// Clock stamps Tick events and lease checks; nil means the system
	// clock. Tests inject a deterministic fake.
	Clock raft.Clock
}

// systemClock is the default raft.Clock: plain wall/monotonic time.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ErrLeaseExpired signals ReadIndex's fast path can't answer locally;
// the caller must fall back to a quorum-confirmed read (spec.md §4.1),
// e.g. a zero-payload Propose that round-trips an append to a quorum.
var ErrLeaseExpired = errors.New("raft: leader lease expired, quorum read required")

// Driver is the single owner of an Engine and the I/O collaborators it
// issues commands against.
type Driver struct {
	mu     sync.Mutex
	engine *raft.Engine

	cfg       Config
	logStore  raft.LogStore
	voteStore VoteStore
	snapStore SnapshotStore
	sm        raft.StateMachine
	transport raft.Transport
	metrics   raft.MetricsSink
	log       zerolog.Logger

	clock raft.Clock

	replicators map[raft.NodeID]*replicator
	// lastApplied is -1 until the first entry is applied, the same
	// nil-sorts-first convention raft.IndexOpt uses for *LogID, needed
	// here because index 0 is itself a valid, real log position.
	lastApplied int64

	pendingMu sync.Mutex
	pending   map[uint64]chan raft.RespondResult
	nextReply uint64

	// pendingSnapshot buffers InstallSnapshotRequest chunks by
	// SnapshotID until the final chunk arrives, since the engine only
	// decides anything on req.Done (spec.md §4.5).
	pendingSnapshot struct {
		id   string
		data []byte
	}

	// leaseCache remembers, per term, the instant a confirmed lease
	// expires (the vote's time plus election_timeout_min) — a bounded LRU
	// (github.com/hashicorp/golang-lru/v2) so ReadIndex can skip
	// re-deriving HasLease's wall-clock check under the engine lock on
	// every repeated linearizable read in the same term (SPEC_FULL.md
	// §12 "Leader lease reads").
	leaseCache *lru.Cache[raft.Term, time.Time]

	stopOnce sync.Once
	quit     chan struct{}
	wg       sync.WaitGroup
}

// VoteStore persists the current term/vote (spec.md §4.7 "SaveVote").
// Kept separate from raft.LogStore because the teacher itself
// persists term and log as two independently-rewritten files
// (node.WriteTerm vs. node.WriteLogs).
type VoteStore interface {
	SaveVote(raft.Vote) error
}

// SnapshotStore persists the latest snapshot so a restart after a log
// purge can rebuild the state machine (spec.md §6 "snapshot storage",
// one of the abstract capabilities the engine never touches itself).
// A nil SnapshotStore is allowed: snapshots then live only in memory,
// which is fine for tests and benchmarks that never purge.
type SnapshotStore interface {
	Save(raft.SnapshotMeta, []byte) error
	Load() (*raft.SnapshotMetaFull, error)
}

// New builds a Driver around an already-constructed Engine. Call
// Start to begin the background tasks.
func New(cfg Config, engine *raft.Engine, logStore raft.LogStore, voteStore VoteStore, snapStore SnapshotStore, sm raft.StateMachine, transport raft.Transport, metrics raft.MetricsSink, log zerolog.Logger) *Driver {
	leaseCacheSize := cfg.LeaseCacheSize
	if leaseCacheSize <= 0 {
		leaseCacheSize = 1024
	}
	leaseCache, _ := lru.New[raft.Term, time.Time](leaseCacheSize)
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	d := &Driver{
		engine:      engine,
		cfg:         cfg,
		clock:       clock,
		logStore:    logStore,
		voteStore:   voteStore,
		snapStore:   snapStore,
		sm:          sm,
		transport:   transport,
		metrics:     metrics,
		log:         log,
		replicators: make(map[raft.NodeID]*replicator),
		pending:     make(map[uint64]chan raft.RespondResult),
		lastApplied: -1,
		leaseCache:  leaseCache,
		quit:        make(chan struct{}),
	}
	if engine.State.Snapshot != nil {
		// Entries the snapshot covers were already applied (and are
		// likely purged); replay resumes after them.
		d.lastApplied = raft.IndexOpt(engine.State.Snapshot.LastLogID)
	}
	return d
}

// Start runs Engine.Startup and launches the ticker and metrics tasks.
// The RaftServer half (server.go) is driven by the grpc server's own
// goroutines and needs no separate Start.
func (d *Driver) Start() {
	d.mu.Lock()
	d.engine.Startup()
	cmds := d.engine.TakeCommands()
	d.mu.Unlock()
	d.executeAll(cmds)

	d.wg.Add(1)
	go d.tickLoop()

	if d.cfg.MetricsPeriod > 0 && d.metrics != nil {
		d.wg.Add(1)
		go d.metricsLoop()
	}
}

// Stop halts the background tasks and tears down replication workers.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()

	d.mu.Lock()
	for _, r := range d.replicators {
		r.stop()
	}
	d.mu.Unlock()
}

func (d *Driver) tickLoop() {
	defer d.wg.Done()
	interval := d.cfg.TickInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			d.step(raft.NewTick(d.clock.Now()))
		}
	}
}

func (d *Driver) metricsLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.MetricsPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			d.metrics.Observe(d.snapshotMetrics())
		}
	}
}

// snapshotMetrics clones the fields spec.md §6's metrics sink wants
// out from under the engine lock, cheap precisely because State holds
// no deep mutable structures besides the log index (§5 "Shared
// state... snapshots of state may be cloned out cheaply").
func (d *Driver) snapshotMetrics() raft.MetricsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := raft.MetricsSnapshot{
		ServerState: d.engine.State.ServerState,
		Vote:        d.engine.State.Vote.Value,
		LastLogID:   d.engine.State.LastLogID(),
	}
	if d.engine.State.Committed != nil {
		snap.Committed = d.engine.State.Committed.Index
	}
	if d.engine.State.MembershipState.Effective != nil {
		snap.Membership = d.engine.State.MembershipState.Effective.Membership
	}
	if d.engine.Leader != nil {
		progress := make(map[raft.NodeID]raft.ProgressEntry, len(d.engine.Leader.Progress))
		for id, pe := range d.engine.Leader.Progress {
			progress[id] = *pe
		}
		snap.Progress = progress
	}
	return snap
}

// Status returns a point-in-time snapshot of the engine's observable
// state, taken under the engine lock. It is the same shape the metrics
// loop publishes; internal/httpapi serves it on GET /status.
func (d *Driver) Status() raft.MetricsSnapshot {
	return d.snapshotMetrics()
}

// step serializes one event through the engine and executes whatever
// commands result. Safe to call from any goroutine.
func (d *Driver) step(ev raft.Event) {
	d.executeAll(d.stepLocked(ev))
}

func (d *Driver) stepLocked(ev raft.Event) []raft.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.recoverInvariant()
	d.engine.Step(ev)
	return d.engine.TakeCommands()
}

// recoverInvariant converts an engine invariant panic into the fatal
// storage-class path a failed disk write takes (spec.md §7: invariant
// violations are statically unreachable and abort), at this intake
// boundary rather than inside library code. Deferred by every call
// site that steps the engine, including the RPC handlers in server.go.
func (d *Driver) recoverInvariant() {
	if r := recover(); r != nil {
		d.log.Fatal().Interface("panic", r).Msg("engine invariant violation")
	}
}

// nextReplyID allocates a correlation id for a pending client
// proposal or membership change (Respond commands carry it back).
func (d *Driver) nextReplyID() uint64 {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.nextReply++
	return d.nextReply
}

func (d *Driver) registerPending(id uint64) chan raft.RespondResult {
	ch := make(chan raft.RespondResult, 1)
	d.pendingMu.Lock()
	d.pending[id] = ch
	d.pendingMu.Unlock()
	return ch
}

func (d *Driver) resolvePending(id uint64, result raft.RespondResult) {
	d.pendingMu.Lock()
	ch, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.pendingMu.Unlock()
	if ok {
		ch <- result
	}
}

// Propose submits application bytes for replication, blocking until
// the entry commits (or ctx is done, or the engine redirects).
func (d *Driver) Propose(ctx context.Context, data []byte) (*raft.LogID, error) {
	select {
	case <-d.quit:
		return nil, raft.ErrShuttingDown
	default:
	}
	id := d.nextReplyID()
	ch := d.registerPending(id)
	d.step(raft.NewClientPropose(data, id))
	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.LogID, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadIndex answers a linearizable read request with the leader's
// current committed index via the lease fast path (spec.md §4.1,
// SPEC_FULL.md §12), without round-tripping a quorum-confirming
// AppendEntries. Returns ErrLeaseExpired if the lease can't be
// confirmed locally, in which case the caller must fall back to a
// quorum-confirmed read (e.g. a zero-payload Propose).
func (d *Driver) ReadIndex() (raft.LogIndex, error) {
	now := d.clock.Now()
	d.mu.Lock()
	isLeader := d.engine.State.ServerState == raft.ServerStateLeader
	term := d.engine.State.Vote.Value.Term
	voteAt := d.engine.State.Vote.At
	electionMin := d.engine.Config.ElectionTimeoutMin
	hasLease := d.engine.HasLease(now)
	var committed raft.LogIndex
	if d.engine.State.Committed != nil {
		committed = d.engine.State.Committed.Index
	}
	d.mu.Unlock()

	if !isLeader {
		return 0, raft.ErrNotLeader
	}
	if deadline, ok := d.leaseCache.Get(term); ok && now.Before(deadline) {
		return committed, nil
	}
	if !hasLease {
		return 0, ErrLeaseExpired
	}
	d.leaseCache.Add(term, voteAt.Add(electionMin))
	return committed, nil
}

// ChangeMembership proposes a joint-consensus reconfiguration and
// blocks until it either commits (the auto-proposed uniform successor
// is not separately waited on) or is rejected.
func (d *Driver) ChangeMembership(ctx context.Context, m raft.Membership) (*raft.LogID, error) {
	select {
	case <-d.quit:
		return nil, raft.ErrShuttingDown
	default:
	}
	id := d.nextReplyID()
	ch := d.registerPending(id)
	d.step(raft.NewChangeMembership(m, id))
	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.LogID, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
