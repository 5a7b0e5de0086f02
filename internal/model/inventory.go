package model

import "github.com/shopspring/decimal"

// InventoryItem is a stock keeping unit with its on-hand quantity.
type InventoryItem struct {
	Syncable
	SKU       string          `gorm:"size:64;uniqueIndex;not null" json:"sku"`
	Name      string          `gorm:"size:128;not null" json:"name"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"unit_price"`
	OnHand    decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"on_hand"`
}

func (InventoryItem) TableName() string { return "inventory_item" }

func (InventoryItem) Kind() EntityKind { return KindInventoryItem }
