package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartyLedger is one double-entry posting against a party within an outlet
// scope. Rows are never physically deleted; voiding keeps history intact.
type PartyLedger struct {
	Syncable
	PartyPID       string          `gorm:"column:party_pid;size:36;index;not null" json:"party_pid"`
	OutletID       int64           `gorm:"not null;index" json:"outlet_id"`
	Debit          decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"debit"`
	Credit         decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"credit"`
	Narration      string          `gorm:"size:256" json:"narration"`
	DocPID         string          `gorm:"size:36" json:"doc_pid"`
	IdempotencyKey *string         `gorm:"size:64" json:"idempotency_key,omitempty"`
	PostedAtUTC    time.Time       `json:"posted_at_utc"`
}

func (PartyLedger) TableName() string { return "party_ledger" }

func (PartyLedger) Kind() EntityKind { return KindPartyLedger }

// PartyBalance is the running-sum snapshot for one (party, outlet) scope.
// At any consistent point Balance equals the sum of debit minus credit over
// the non-void ledger rows in the scope; every ledger posting refreshes and
// re-replicates it alongside the row.
type PartyBalance struct {
	Syncable
	PartyPID string          `gorm:"column:party_pid;size:36;not null;uniqueIndex:idx_balance_scope,priority:1" json:"party_pid"`
	OutletID int64           `gorm:"not null;uniqueIndex:idx_balance_scope,priority:2" json:"outlet_id"`
	Balance  decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"balance"`
	AsOfUTC  time.Time       `json:"as_of_utc"`
}

func (PartyBalance) TableName() string { return "party_balance" }

func (PartyBalance) Kind() EntityKind { return KindPartyBalance }
