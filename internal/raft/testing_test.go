package raft

import "time"

// newTestEngine builds an Engine with a single (uniform) voter set,
// ids as the full voter set, and self as the local node, an empty log, and an
// uncommitted zero vote — the state a brand new node boots with.
func newTestEngine(t interface{ Helper() }, self NodeID, ids ...NodeID) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig(self)
	ms := NewMembershipState(NewEffectiveMembership(nil, NewUniformMembership(NewNodeIDSet(ids...), nil)))
	e, err := NewEngine(cfg, UTime[Vote]{}, LogIdList{}, ms, nil, nil)
	if err != nil {
		panic(err)
	}
	return e
}

// mustNotPanic is used where a test wants to assert a handler runs to
// completion without relying on t.Fatal inside a non-test helper.
func mustNotPanic(fn func()) (panicked bool) {
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	fn()
	return false
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return epoch.Add(time.Duration(seconds) * time.Second)
}

// fakeClock is the deterministic Clock timer-driven tests feed ticks
// from: it only moves when told to, so election and lease deadlines
// are exact rather than wall-clock-raced.
type fakeClock struct {
	now time.Time
}

var _ Clock = (*fakeClock)(nil)

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time { return c.now }

// Advance moves the clock forward and returns the new instant.
func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

// commandKinds extracts the Kind of each command, for terse assertions
// on emission order (spec.md §4.7 "command ordering is significant").
func commandKinds(cmds []Command) []CommandKind {
	kinds := make([]CommandKind, len(cmds))
	for i, c := range cmds {
		kinds[i] = c.Kind
	}
	return kinds
}

func containsCommand(cmds []Command, kind CommandKind) bool {
	for _, c := range cmds {
		if c.Kind == kind {
			return true
		}
	}
	return false
}
