package model

import "time"

// SyncCursor is the per-terminal replication watermark. It only moves
// forward: LastPushedSeq after the hub confirms a push, LastPulledToken
// after a pulled batch is fully applied.
type SyncCursor struct {
	TerminalID      string    `gorm:"primaryKey;size:64"`
	LastPushedSeq   uint64    `gorm:"not null;default:0"`
	LastPulledToken uint64    `gorm:"not null;default:0"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (SyncCursor) TableName() string { return "sync_cursor" }
