package raft

// PayloadKind discriminates the closed set of entry payloads (spec.md
// §9 "polymorphism over message kinds": a tagged variant, never open
// dispatch, so the engine stays exhaustively testable).
type PayloadKind int

const (
	// PayloadBlank is the noop entry appended on election (GLOSSARY).
	PayloadBlank PayloadKind = iota
	// PayloadNormal carries application bytes.
	PayloadNormal
	// PayloadMembership carries a proposed Membership configuration.
	PayloadMembership
)

// Payload is the closed union of entry contents. Exactly one of the
// Data/Membership fields is meaningful, selected by Kind; this mirrors
// the original `EntryPayload::Blank/Normal/Membership` enum rather than
// introducing an open interface that would defeat exhaustive matching.
type Payload struct {
	Kind       PayloadKind
	Data       []byte
	Membership Membership
}

// BlankPayload builds a noop payload.
func BlankPayload() Payload { return Payload{Kind: PayloadBlank} }

// NormalPayload wraps application bytes.
func NormalPayload(data []byte) Payload {
	return Payload{Kind: PayloadNormal, Data: data}
}

// MembershipPayload wraps a proposed configuration change.
func MembershipPayload(m Membership) Payload {
	return Payload{Kind: PayloadMembership, Membership: m}
}

// Entry is one record in the replicated log: its position (LogID) and
// its payload.
type Entry struct {
	LogID   LogID
	Payload Payload
}

// NewBlankEntry builds the noop entry appended on leader election.
func NewBlankEntry(id LogID) Entry {
	return Entry{LogID: id, Payload: BlankPayload()}
}

// NewNormalEntry builds an application entry.
func NewNormalEntry(id LogID, data []byte) Entry {
	return Entry{LogID: id, Payload: NormalPayload(data)}
}

// NewMembershipEntry builds a membership-change entry.
func NewMembershipEntry(id LogID, m Membership) Entry {
	return Entry{LogID: id, Payload: MembershipPayload(m)}
}

// IsMembership reports whether e carries a membership change.
func (e Entry) IsMembership() bool {
	return e.Payload.Kind == PayloadMembership
}
