package raft

// NodeIDSet is an unordered set of node ids, used as one voter set
// within a Membership.
type NodeIDSet map[NodeID]struct{}

// NewNodeIDSet builds a set from a list of ids.
func NewNodeIDSet(ids ...NodeID) NodeIDSet {
	s := make(NodeIDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s NodeIDSet) Contains(id NodeID) bool {
	_, ok := s[id]
	return ok
}

// Membership is an ordered sequence of voter sets: length 1 is
// uniform, length 2 is joint (both must agree for quorum, GLOSSARY).
// Learners are nodes present in Progress but in none of these sets.
type Membership struct {
	Voters   []NodeIDSet
	Learners NodeIDSet
}

// NewUniformMembership builds a single-voter-set configuration.
func NewUniformMembership(voters NodeIDSet, learners NodeIDSet) Membership {
	return Membership{Voters: []NodeIDSet{voters}, Learners: learners}
}

// NewJointMembership builds a two-voter-set (joint consensus)
// configuration (§4.4).
func NewJointMembership(oldVoters, newVoters NodeIDSet, learners NodeIDSet) Membership {
	return Membership{Voters: []NodeIDSet{oldVoters, newVoters}, Learners: learners}
}

// IsJoint reports whether m is mid-reconfiguration.
func (m Membership) IsJoint() bool {
	return len(m.Voters) > 1
}

// IsVoter reports whether id is a voter in any set of m.
func (m Membership) IsVoter(id NodeID) bool {
	for _, set := range m.Voters {
		if set.Contains(id) {
			return true
		}
	}
	return false
}

// AllMembers returns every node referenced by m, voter or learner,
// de-duplicated. Used to size the leader's progress map (§4.2).
func (m Membership) AllMembers() NodeIDSet {
	all := make(NodeIDSet)
	for _, set := range m.Voters {
		for id := range set {
			all[id] = struct{}{}
		}
	}
	for id := range m.Learners {
		all[id] = struct{}{}
	}
	return all
}

// quorumOf returns the majority size of a voter set.
func quorumOf(set NodeIDSet) int {
	return len(set)/2 + 1
}

// IsQuorum reports whether the given set of acknowledging nodes forms
// a quorum of every voter set in m (GLOSSARY "Quorum"; required for
// joint consensus where both the old and new voter sets must agree).
func (m Membership) IsQuorum(acked NodeIDSet) bool {
	for _, set := range m.Voters {
		count := 0
		for id := range set {
			if acked.Contains(id) {
				count++
			}
		}
		if count < quorumOf(set) {
			return false
		}
	}
	return true
}

// EffectiveMembership pairs a Membership with the LogID at which it
// was proposed (spec.md §3).
type EffectiveMembership struct {
	LogID      *LogID
	Membership Membership
}

// NewEffectiveMembership builds an EffectiveMembership.
func NewEffectiveMembership(id *LogID, m Membership) *EffectiveMembership {
	return &EffectiveMembership{LogID: id, Membership: m}
}

// MembershipState is the pair (committed, effective): effective is
// always at or after committed by log position, and committed is the
// prefix-agreed configuration used for commit-quorum math (§4.3).
type MembershipState struct {
	Committed *EffectiveMembership
	Effective *EffectiveMembership
}

// NewMembershipState builds a MembershipState with both configurations
// equal, the shape of a freshly bootstrapped single-node cluster.
func NewMembershipState(initial *EffectiveMembership) MembershipState {
	return MembershipState{Committed: initial, Effective: initial}
}

// SetEffective replaces the effective configuration, e.g. on appending
// (and later possibly rolling back) a proposed membership entry.
func (s *MembershipState) SetEffective(em *EffectiveMembership) {
	s.Effective = em
}

// SetCommitted replaces the committed configuration, called when the
// commit index advances past the effective membership's LogID (§4.3,
// §4.4).
func (s *MembershipState) SetCommitted(em *EffectiveMembership) {
	s.Committed = em
}

// medianMatching returns the median `matching` index of a voter set,
// counting self as lastLogID (§4.3 "Commit Engine"). Returns nil if
// the set is empty (the empty-voter-set edge case, spec.md §8) or if
// no quorum of the set has any matching entry yet.
func medianMatching(set NodeIDSet, self NodeID, lastLogID *LogID, matching map[NodeID]*LogID) *LogID {
	if len(set) == 0 {
		return nil
	}
	vals := make([]*LogID, 0, len(set))
	for id := range set {
		if id == self {
			vals = append(vals, lastLogID)
			continue
		}
		vals = append(vals, matching[id])
	}
	sortLogIDPtrs(vals)
	return vals[(len(vals)-1)/2]
}

func sortLogIDPtrs(vals []*LogID) {
	// insertion sort: voter sets are small (single-digit to low tens of
	// nodes), and nil must sort first per the LessOpt convention.
	for i := 1; i < len(vals); i++ {
		for j := i; j > 0 && LessOpt(vals[j], vals[j-1]); j-- {
			vals[j], vals[j-1] = vals[j-1], vals[j]
		}
	}
}
