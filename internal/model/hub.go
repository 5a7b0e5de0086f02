package model

import (
	"encoding/json"
	"time"
)

// HubChange is one accepted envelope in the hub's global change log. Token
// is the single monotonic sequence the hub assigns per accepted envelope;
// the (OriginID, OriginSeq) unique index makes re-pushed batches no-ops.
type HubChange struct {
	Token      uint64     `gorm:"primaryKey;autoIncrement"`
	OriginID   string     `gorm:"size:64;not null;uniqueIndex:idx_origin_seq,priority:1"`
	OriginSeq  uint64     `gorm:"not null;uniqueIndex:idx_origin_seq,priority:2"`
	Kind       EntityKind `gorm:"size:32;not null"`
	Op         Op         `gorm:"size:16;not null"`
	PublicID   string     `gorm:"size:36;not null;index"`
	Payload    string     `gorm:"type:jsonb"`
	StampUTC   time.Time  `gorm:"not null"`
	Version    uint64     `gorm:"not null"`
	ReceivedAt time.Time  `gorm:"autoCreateTime"`
}

func (HubChange) TableName() string { return "hub_change" }

// Change returns the stored envelope tagged with its origin sequence.
func (c HubChange) Change() BatchChange {
	return BatchChange{
		Seq: c.OriginSeq,
		SyncEnvelope: SyncEnvelope{
			Kind:     c.Kind,
			Op:       c.Op,
			PublicID: c.PublicID,
			Payload:  json.RawMessage(c.Payload),
			StampUTC: c.StampUTC,
			Version:  c.Version,
		},
	}
}
