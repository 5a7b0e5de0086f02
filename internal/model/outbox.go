package model

import (
	"encoding/json"
	"time"
)

// OutboxRecord is a durable, not-yet-acknowledged envelope. It is written
// in the same local transaction as the business rows it describes; the
// autoincrement Seq is the terminal-local commit order.
type OutboxRecord struct {
	Seq       uint64     `gorm:"primaryKey;autoIncrement"`
	Kind      EntityKind `gorm:"size:32;not null"`
	Op        Op         `gorm:"size:16;not null"`
	PublicID  string     `gorm:"size:36;not null;index"`
	Payload   string     `gorm:"type:jsonb"`
	StampUTC  time.Time  `gorm:"not null"`
	Version   uint64     `gorm:"not null"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	Acked     bool       `gorm:"not null;default:false;index"`
	AckedAt   *time.Time
}

func (OutboxRecord) TableName() string { return "sync_outbox" }

// Envelope reconstitutes the wire envelope from the stored record.
func (r OutboxRecord) Envelope() SyncEnvelope {
	return SyncEnvelope{
		Kind:     r.Kind,
		Op:       r.Op,
		PublicID: r.PublicID,
		Payload:  json.RawMessage(r.Payload),
		StampUTC: r.StampUTC,
		Version:  r.Version,
	}
}
