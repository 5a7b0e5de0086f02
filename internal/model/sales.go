package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleLine is one invoice line, stored denormalized on the invoice.
type SaleLine struct {
	SKU       string          `json:"sku"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// SalesInvoice is a finalized sale. Lines travel inside the invoice
// snapshot rather than as rows of their own.
type SalesInvoice struct {
	Syncable
	Number         string          `gorm:"size:32;not null" json:"number"`
	PartyPID       string          `gorm:"column:party_pid;size:36;index" json:"party_pid"`
	OutletID       int64           `gorm:"not null;index" json:"outlet_id"`
	Lines          string          `gorm:"type:jsonb;not null" json:"lines"`
	Total          decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"total"`
	Paid           decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"paid"`
	IdempotencyKey *string         `gorm:"size:64" json:"idempotency_key,omitempty"`
	SoldAtUTC      time.Time       `json:"sold_at_utc"`
}

func (SalesInvoice) TableName() string { return "sales_invoice" }

func (SalesInvoice) Kind() EntityKind { return KindSalesInvoice }
