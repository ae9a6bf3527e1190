package raft

import "sort"

// LogIdList is a sparse in-memory index over a replicated log: it
// remembers only the first LogID of every run of equal (term, leader)
// plus the tail
// of the log, and answers first()/last()/get(index) in O(log n) by
// binary search instead of holding every entry (spec.md §3, §8 "Log
// index").
//
// Log contiguity (invariant #2) is what makes this sound: within a
// term, index i's LogID is fully determined by the term of the latest
// boundary at or before i.
type LogIdList struct {
	keys []LogID // increasing index, one per run of equal (term, leader)
	last *LogID  // tail of the log; nil when the log is empty
}

// NewLogIdList builds a list from explicit boundary ids, in increasing
// index order. This constructor exists mainly for tests that fake up
// engine state directly (mirroring openraft's `LogIdList::new`), which
// is exactly how internal/raft/startup_test.go seeds a restarted
// leader's log.
func NewLogIdList(boundaries []LogID) LogIdList {
	l := LogIdList{}
	for _, id := range boundaries {
		l.Append(id)
	}
	return l
}

// Append records a newly-written entry as the new tail, adding a fresh
// boundary key whenever its (term, leader) differs from the previous
// tail's. Keying on leader as well as term (not just term, as a
// minimal reading of spec.md §3 might suggest) is what lets
// findNoopOfTerm (engine.go) distinguish "first entry of this term"
// from "first entry of this term proposed by the resuming leader's own
// incarnation" when a term outlives more than one leader.
func (l *LogIdList) Append(id LogID) {
	if len(l.keys) == 0 {
		l.keys = append(l.keys, id)
	} else {
		prev := l.keys[len(l.keys)-1]
		if prev.Term != id.Term || prev.LeaderID != id.LeaderID || prev.HasLeader != id.HasLeader {
			l.keys = append(l.keys, id)
		}
	}
	tail := id
	l.last = &tail
}

// First returns the earliest known LogID, or nil if the log is empty.
func (l *LogIdList) First() *LogID {
	if len(l.keys) == 0 {
		return nil
	}
	first := l.keys[0]
	return &first
}

// Last returns the tail LogID, or nil if the log is empty.
func (l *LogIdList) Last() *LogID {
	if l.last == nil {
		return nil
	}
	last := *l.last
	return &last
}

// Get reconstructs the LogID at index, or nil if index falls outside
// [first, last].
func (l *LogIdList) Get(index LogIndex) *LogID {
	if l.last == nil {
		return nil
	}
	if index < l.keys[0].Index || index > l.last.Index {
		return nil
	}
	i := sort.Search(len(l.keys), func(i int) bool {
		return l.keys[i].Index > index
	})
	// i is the first key strictly after index; the containing boundary
	// is i-1.
	key := l.keys[i-1]
	return &LogID{Term: key.Term, Index: index}
}

// TruncateAfter drops every boundary (and the tail) beyond index,
// called when a follower must rewind on log conflict (§4.2 "reacting
// to responses", Conflict case) or a leader truncates a divergent
// suffix.
func (l *LogIdList) TruncateAfter(index LogIndex) {
	if l.last == nil {
		return
	}
	if index >= l.last.Index {
		return
	}
	n := sort.Search(len(l.keys), func(i int) bool {
		return l.keys[i].Index > index
	})
	l.keys = l.keys[:n]
	if len(l.keys) == 0 {
		l.last = nil
		return
	}
	newLast := *l.Get(index)
	l.last = &newLast
}

// PurgeUpto drops boundaries that are no longer reachable once the log
// has been compacted below (and including) index, called after a
// snapshot persists (§4.5 "Purge"). The boundary that still covers
// index+1 is kept so Get still answers correctly just past the purge
// point.
func (l *LogIdList) PurgeUpto(index LogIndex) {
	if len(l.keys) == 0 {
		return
	}
	keep := 0
	for i, k := range l.keys {
		if k.Index <= index {
			keep = i
		} else {
			break
		}
	}
	l.keys = l.keys[keep:]
}
