package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// EntityKind names a replicated entity type on the wire.
type EntityKind string

const (
	KindParty         EntityKind = "party"
	KindAccount       EntityKind = "account"
	KindPartyLedger   EntityKind = "party_ledger"
	KindPartyBalance  EntityKind = "party_balance"
	KindInventoryItem EntityKind = "inventory_item"
	KindSalesInvoice  EntityKind = "sales_invoice"
)

// EntityRef identifies an entity across terminals.
type EntityRef struct {
	Kind     EntityKind `json:"kind"`
	PublicID string     `json:"public_id"`
}

// Syncable carries the replication bookkeeping columns shared by every
// replicated entity. The local ID never crosses the wire; PublicID is the
// only cross-terminal identity and is assigned once.
type Syncable struct {
	ID       uint64    `gorm:"primaryKey" json:"-"`
	PublicID string    `gorm:"size:36;uniqueIndex;not null" json:"public_id"`
	Version  uint64    `gorm:"not null;default:0" json:"version"`
	StampUTC time.Time `gorm:"not null" json:"stamp_utc"`
	Void     bool      `gorm:"not null;default:false" json:"void"`
}

// Meta exposes the bookkeeping columns to kind-agnostic code.
func (s *Syncable) Meta() *Syncable { return s }

// Touch bumps the write stamp before a local mutation is committed.
func (s *Syncable) Touch(now time.Time) {
	s.Version++
	s.StampUTC = now.UTC()
}

// Replicated is implemented by every entity that travels between terminals.
type Replicated interface {
	Kind() EntityKind
	Meta() *Syncable
}

// NewByKind returns an empty instance of the entity for a kind, for
// decoding payload snapshots into.
func NewByKind(k EntityKind) (Replicated, error) {
	switch k {
	case KindParty:
		return &Party{}, nil
	case KindAccount:
		return &Account{}, nil
	case KindPartyLedger:
		return &PartyLedger{}, nil
	case KindPartyBalance:
		return &PartyBalance{}, nil
	case KindInventoryItem:
		return &InventoryItem{}, nil
	case KindSalesInvoice:
		return &SalesInvoice{}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", k)
	}
}

// NewPublicID issues a fresh cross-terminal identity. Collisions across
// terminals are what the 128 random bits are for.
func NewPublicID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Errorf("read random public id: %w", err))
	}
	return hex.EncodeToString(b[:])
}
