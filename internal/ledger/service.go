package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/possuite/possync/internal/model"
	"github.com/possuite/possync/internal/outbox"
)

// ErrInvalidAmount means a non-positive or malformed amount was passed.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrUnknownItem means a sale line references a SKU the terminal has never
// seen.
var ErrUnknownItem = errors.New("unknown inventory item")

// Service runs the terminal's business mutations. Every mutation writes its
// rows and its outbox records in one local transaction, so a committed
// change always carries its replication facts.
type Service struct {
	db  *gorm.DB
	ob  *outbox.Outbox
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, ob *outbox.Outbox, log *zap.SugaredLogger) *Service {
	return &Service{db: db, ob: ob, log: log}
}

// PostEntryInput describes one party ledger posting.
type PostEntryInput struct {
	PartyPID       string
	OutletID       int64
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	Narration      string
	DocPID         string
	IdempotencyKey string
}

// PostEntry posts a double-entry row against a party and refreshes the
// balance snapshot for its scope. The row and the snapshot leave the
// terminal as paired envelopes so a receiver that applies both lands in the
// same state this terminal is in.
func (s *Service) PostEntry(ctx context.Context, in PostEntryInput) (*model.PartyLedger, error) {
	var row *model.PartyLedger
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = s.postEntry(tx, in)
		return err
	})
	return row, err
}

func (s *Service) postEntry(tx *gorm.DB, in PostEntryInput) (*model.PartyLedger, error) {
	if in.Debit.IsNegative() || in.Credit.IsNegative() ||
		(in.Debit.IsZero() && in.Credit.IsZero()) {
		return nil, ErrInvalidAmount
	}

	if in.IdempotencyKey != "" {
		var existing model.PartyLedger
		err := tx.Where("party_pid = ? AND outlet_id = ? AND idempotency_key = ?",
			in.PartyPID, in.OutletID, in.IdempotencyKey).First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	row := &model.PartyLedger{
		PartyPID:    in.PartyPID,
		OutletID:    in.OutletID,
		Debit:       in.Debit,
		Credit:      in.Credit,
		Narration:   in.Narration,
		DocPID:      in.DocPID,
		PostedAtUTC: now,
	}
	row.PublicID = model.NewPublicID()
	if in.IdempotencyKey != "" {
		row.IdempotencyKey = &in.IdempotencyKey
	}
	row.Touch(now)
	if err := tx.Create(row).Error; err != nil {
		return nil, err
	}
	if err := s.ob.EnqueueUpsert(tx, row); err != nil {
		return nil, err
	}
	if err := s.refreshBalance(tx, in.PartyPID, in.OutletID, now); err != nil {
		return nil, err
	}
	return row, nil
}

// refreshBalance recomputes the scope's running sum and replicates the
// snapshot right behind the row that changed it.
func (s *Service) refreshBalance(tx *gorm.DB, partyPID string, outletID int64, now time.Time) error {
	sum, err := SumEntries(tx, partyPID, outletID)
	if err != nil {
		return err
	}
	var snap model.PartyBalance
	err = tx.Where("party_pid = ? AND outlet_id = ?", partyPID, outletID).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		snap = model.PartyBalance{PartyPID: partyPID, OutletID: outletID}
		snap.PublicID = model.NewPublicID()
	} else if err != nil {
		return err
	}
	snap.Balance = sum
	snap.AsOfUTC = now
	snap.Touch(now)
	if err := tx.Save(&snap).Error; err != nil {
		return err
	}
	return s.ob.EnqueueUpsert(tx, &snap)
}

// FinalizeSaleInput describes a sale being closed at the counter.
type FinalizeSaleInput struct {
	Number         string
	PartyPID       string
	OutletID       int64
	Lines          []model.SaleLine
	Paid           decimal.Decimal
	IdempotencyKey string
}

// FinalizeSale writes the invoice, decrements stock per line, and posts any
// unpaid remainder to the customer's ledger, all in one transaction with
// one envelope per touched entity.
func (s *Service) FinalizeSale(ctx context.Context, in FinalizeSaleInput) (*model.SalesInvoice, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("sale %s has no lines", in.Number)
	}
	var inv *model.SalesInvoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.IdempotencyKey != "" {
			var existing model.SalesInvoice
			err := tx.Where("idempotency_key = ?", in.IdempotencyKey).First(&existing).Error
			if err == nil {
				inv = &existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		now := time.Now().UTC()
		total := decimal.Zero
		for _, l := range in.Lines {
			if l.Qty.LessThanOrEqual(decimal.Zero) {
				return ErrInvalidAmount
			}
			total = total.Add(l.Qty.Mul(l.UnitPrice))
		}
		lines, err := json.Marshal(in.Lines)
		if err != nil {
			return fmt.Errorf("serialize sale lines: %w", err)
		}

		inv = &model.SalesInvoice{
			Number:    in.Number,
			PartyPID:  in.PartyPID,
			OutletID:  in.OutletID,
			Lines:     string(lines),
			Total:     total,
			Paid:      in.Paid,
			SoldAtUTC: now,
		}
		inv.PublicID = model.NewPublicID()
		if in.IdempotencyKey != "" {
			inv.IdempotencyKey = &in.IdempotencyKey
		}
		inv.Touch(now)
		if err := tx.Create(inv).Error; err != nil {
			return err
		}
		if err := s.ob.EnqueueUpsert(tx, inv); err != nil {
			return err
		}

		for _, l := range in.Lines {
			var item model.InventoryItem
			err := tx.Where("sku = ?", l.SKU).First(&item).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownItem, l.SKU)
			}
			if err != nil {
				return err
			}
			item.OnHand = item.OnHand.Sub(l.Qty)
			item.Touch(now)
			if err := tx.Save(&item).Error; err != nil {
				return err
			}
			if err := s.ob.EnqueueUpsert(tx, &item); err != nil {
				return err
			}
		}

		if due := total.Sub(in.Paid); !due.IsZero() && in.PartyPID != "" {
			entry := PostEntryInput{
				PartyPID:  in.PartyPID,
				OutletID:  in.OutletID,
				Narration: "sale " + in.Number,
				DocPID:    inv.PublicID,
			}
			if due.IsPositive() {
				entry.Debit = due
			} else {
				entry.Credit = due.Neg()
			}
			if in.IdempotencyKey != "" {
				entry.IdempotencyKey = in.IdempotencyKey + ":due"
			}
			if _, err := s.postEntry(tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	return inv, err
}

// UpsertParty saves a party and replicates it. A fresh party gets its
// PublicID here, once.
func (s *Service) UpsertParty(ctx context.Context, p *model.Party) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.PublicID == "" {
			p.PublicID = model.NewPublicID()
		}
		p.Touch(time.Now())
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		return s.ob.EnqueueUpsert(tx, p)
	})
}

// UpsertItem saves an inventory item and replicates it.
func (s *Service) UpsertItem(ctx context.Context, item *model.InventoryItem) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if item.PublicID == "" {
			item.PublicID = model.NewPublicID()
		}
		item.Touch(time.Now())
		if err := tx.Save(item).Error; err != nil {
			return err
		}
		return s.ob.EnqueueUpsert(tx, item)
	})
}

// DeleteParty voids a party and replicates the tombstone. Identifiers still
// referenced by history are never physically purged.
func (s *Service) DeleteParty(ctx context.Context, publicID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Party
		if err := tx.Where("public_id = ?", publicID).First(&p).Error; err != nil {
			return err
		}
		if p.Void {
			return nil
		}
		p.Void = true
		p.Touch(time.Now())
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		return s.ob.EnqueueDelete(tx, model.EntityRef{Kind: p.Kind(), PublicID: p.PublicID},
			p.StampUTC, p.Version)
	})
}
