// Package raft implements the deterministic consensus engine: a pure
// state, event -> state, []Command transition function. The package
// performs no I/O and owns no goroutines; external collaborators are
// described by the interfaces in store.go and driven by a separate
// driver package.
package raft

import "fmt"

// NodeID is a cluster-unique, totally ordered replica identifier.
type NodeID uint64

// Term is a monotonically non-decreasing election term.
type Term uint64

// LogIndex is a monotonically non-decreasing, gap-free log position.
type LogIndex uint64

// LogID identifies a log entry by the term that proposed it and its
// index, optionally tagged with the leader that proposed it. LogIDs
// are ordered lexicographically by (Term, Index); LeaderID plays no
// part in ordering or equality of position.
type LogID struct {
	Term      Term
	Index     LogIndex
	LeaderID  NodeID
	HasLeader bool
}

// NewLogID builds a LogID without a leader tag, the common case used
// by tests and by followers reconstructing ids from a persisted log.
func NewLogID(term Term, index LogIndex) LogID {
	return LogID{Term: term, Index: index}
}

// NewLeaderLogID builds a LogID tagged with the leader that proposed it.
func NewLeaderLogID(term Term, index LogIndex, leader NodeID) LogID {
	return LogID{Term: term, Index: index, LeaderID: leader, HasLeader: true}
}

// Less reports whether id precedes other in (Term, Index) order.
func (id LogID) Less(other LogID) bool {
	if id.Term != other.Term {
		return id.Term < other.Term
	}
	return id.Index < other.Index
}

// LessEq reports whether id does not follow other in (Term, Index) order.
func (id LogID) LessEq(other LogID) bool {
	return !other.Less(id)
}

// Equal compares two LogIDs by (Term, Index), ignoring the leader tag.
func (id LogID) Equal(other LogID) bool {
	return id.Term == other.Term && id.Index == other.Index
}

func (id LogID) String() string {
	return fmt.Sprintf("(%d,%d)", id.Term, id.Index)
}

// CompareLogID orders two LogIDs, returning -1, 0, or 1.
func CompareLogID(a, b LogID) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// MaxLogID returns whichever of a, b sorts later; a nil-like zero value
// is represented by the caller passing hasA/hasB separately where needed
// (the engine always carries *LogID, see the *LogID helpers LessOpt,
// EqualOpt, MaxOpt and IndexOpt in this file).
func MaxLogID(a, b LogID) LogID {
	if a.Less(b) {
		return b
	}
	return a
}

// A *LogID of nil represents "no entry" (an empty log), and always
// sorts before any concrete LogID. These helpers centralize that
// convention so callers never have to special-case nil by hand.

// LessOpt reports whether a precedes b, treating nil as preceding
// everything.
func LessOpt(a, b *LogID) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Less(*b)
}

// LessEqOpt reports whether a does not follow b.
func LessEqOpt(a, b *LogID) bool {
	return !LessOpt(b, a)
}

// EqualOpt reports whether a and b denote the same position.
func EqualOpt(a, b *LogID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// MaxOpt returns whichever of a, b sorts later.
func MaxOpt(a, b *LogID) *LogID {
	if LessOpt(a, b) {
		return b
	}
	return a
}

// IndexOpt returns the index of a, or -1 if a is nil, useful when
// comparing against a LogIndex that may legitimately be 0.
func IndexOpt(a *LogID) int64 {
	if a == nil {
		return -1
	}
	return int64(a.Index)
}
