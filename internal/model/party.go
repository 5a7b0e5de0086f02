package model

// Party is a customer or supplier shared across terminals.
type Party struct {
	Syncable
	Name  string `gorm:"size:128;not null" json:"name"`
	Phone string `gorm:"size:32" json:"phone"`
	// Type is "customer" or "supplier".
	Type string `gorm:"size:16;not null" json:"type"`
}

func (Party) TableName() string { return "party" }

func (Party) Kind() EntityKind { return KindParty }

// Account is a chart-of-accounts head.
type Account struct {
	Syncable
	Code string `gorm:"size:32;not null" json:"code"`
	Name string `gorm:"size:128;not null" json:"name"`
}

func (Account) TableName() string { return "account" }

func (Account) Kind() EntityKind { return KindAccount }
