package model

import (
	"encoding/json"
	"time"
)

// Op is the kind of change an envelope carries.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// SyncEnvelope is one immutable replicated change: a full snapshot of the
// entity as it stood when the originating transaction committed. Replaying
// an envelope is always safe; the resolver decides whether it still applies.
type SyncEnvelope struct {
	Kind     EntityKind      `json:"kind"`
	Op       Op              `json:"op"`
	PublicID string          `json:"public_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	StampUTC time.Time       `json:"stamp_utc"`
	Version  uint64          `json:"version"`
}

// Ref returns the entity identity the envelope targets.
func (e SyncEnvelope) Ref() EntityRef {
	return EntityRef{Kind: e.Kind, PublicID: e.PublicID}
}

// BatchChange is an envelope tagged with its originating local sequence.
// (TerminalID, Seq) is the push idempotency key at the hub.
type BatchChange struct {
	Seq uint64 `json:"seq"`
	SyncEnvelope
}

// SyncBatch is the unit of exchange with the hub. Changes preserve the
// originating terminal's commit order, which implies per-entity causal
// order; cross-entity ordering carries no guarantee.
type SyncBatch struct {
	TerminalID string        `json:"terminal_id"`
	FromToken  uint64        `json:"from_token"`
	Changes    []BatchChange `json:"changes"`
}

// PushAck is the hub's answer to a push: the highest origin sequence it
// has accepted. Anything above it must be resent next cycle.
type PushAck struct {
	AcceptedUpToSeq uint64 `json:"accepted_up_to_seq"`
}

// PullResult is the hub's answer to a pull: batches addressed to the
// terminal, grouped per origin, plus the token to resume from next time.
type PullResult struct {
	Batches      []SyncBatch `json:"batches"`
	HighestToken uint64      `json:"highest_token"`
}

// CompareStamp orders two (timestamp, version) write stamps: negative when
// a is older than b, zero when equal, positive when newer. The version is
// an opaque tiebreak, compared but never interpreted.
func CompareStamp(at time.Time, av uint64, bt time.Time, bv uint64) int {
	switch {
	case at.Before(bt):
		return -1
	case at.After(bt):
		return 1
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}
