package raft

import "time"

// Vote identifies a candidacy: the term it was raised in, the node
// claiming it, and whether a quorum has acknowledged it. A committed
// vote authorizes leader-only operations (spec.md §3, §4.1).
//
// Votes order by (Term, Committed, NodeID): within a term a committed
// vote outranks an uncommitted one, and ties break on node id so every
// replica converges on the same ordering without further coordination.
type Vote struct {
	Term      Term
	NodeID    NodeID
	Committed bool
}

// NewVote constructs an uncommitted vote, the shape raised when a
// replica starts an election (§4.1 "starting an election").
func NewVote(term Term, node NodeID) Vote {
	return Vote{Term: term, NodeID: node}
}

// NewCommittedVote constructs a vote already backed by a quorum, the
// shape a restarted leader finds in persistent state (§4.6).
func NewCommittedVote(term Term, node NodeID) Vote {
	return Vote{Term: term, NodeID: node, Committed: true}
}

// Less orders votes by (Term, Committed, NodeID).
func (v Vote) Less(other Vote) bool {
	if v.Term != other.Term {
		return v.Term < other.Term
	}
	if v.Committed != other.Committed {
		return !v.Committed
	}
	return v.NodeID < other.NodeID
}

// LessEq reports whether v does not outrank other.
func (v Vote) LessEq(other Vote) bool {
	return !other.Less(v)
}

// Equal compares votes by value.
func (v Vote) Equal(other Vote) bool {
	return v == other
}

// Commit returns a copy of v with Committed set, used when a quorum of
// vote grants arrives (§4.1 "winning").
func (v Vote) Commit() Vote {
	v.Committed = true
	return v
}

// UTime pairs a value with the monotonic instant it was last updated,
// used on Vote to drive the leader lease (spec.md §3, §4.1).
type UTime[T any] struct {
	Value T
	At    time.Time
}

// NewUTime wraps a value with the instant it was produced.
func NewUTime[T any](value T, at time.Time) UTime[T] {
	return UTime[T]{Value: value, At: at}
}

// Touch returns a copy of u with a new value and timestamp.
func (u UTime[T]) Touch(value T, at time.Time) UTime[T] {
	return UTime[T]{Value: value, At: at}
}
