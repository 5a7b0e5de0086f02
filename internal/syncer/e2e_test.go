package syncer

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/possuite/possync/internal/auth"
	"github.com/possuite/possync/internal/cursor"
	"github.com/possuite/possync/internal/hub"
	"github.com/possuite/possync/internal/ledger"
	"github.com/possuite/possync/internal/logger"
	"github.com/possuite/possync/internal/model"
	"github.com/possuite/possync/internal/outbox"
	"github.com/possuite/possync/internal/resolver"
)

type terminal struct {
	db     *gorm.DB
	svc    *ledger.Service
	client *Client
}

func newTerminal(t *testing.T, name string, hubSvc HubClient) *terminal {
	dsn := fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", t.Name(), name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Party{}, &model.PartyLedger{}, &model.PartyBalance{},
		&model.InventoryItem{}, &model.SalesInvoice{},
		&model.OutboxRecord{}, &model.SyncCursor{},
	))
	log, _ := logger.NewLogger()
	ob := outbox.New(db, log)
	return &terminal{
		db:  db,
		svc: ledger.NewService(db, ob, log),
		client: New(Config{TerminalID: name}, ob, cursor.NewStore(db, log),
			resolver.New(db, log), hubSvc, auth.AllowAll{}, log),
	}
}

func (tm *terminal) balance(t *testing.T, partyPID string, outlet int64) decimal.Decimal {
	var snap model.PartyBalance
	err := tm.db.Where("party_pid = ? AND outlet_id = ?", partyPID, outlet).First(&snap).Error
	assert.NoError(t, err)
	return snap.Balance
}

// Two offline counters post against the same party and converge through
// the hub without double-applying anything.
func TestTwoTerminalsConvergeThroughHub(t *testing.T) {
	dsn := fmt.Sprintf("file:%s-hub?mode=memory&cache=shared", t.Name())
	hubDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, hubDB.AutoMigrate(&model.HubChange{}))
	log, _ := logger.NewLogger()
	hubSvc := hub.NewService(hubDB, nil, nil, log, 0)

	termA := newTerminal(t, "till-A", hubSvc)
	termB := newTerminal(t, "till-B", hubSvc)
	ctx := context.Background()

	// A sells on credit while "offline"
	_, err = termA.svc.PostEntry(ctx, ledger.PostEntryInput{
		PartyPID: "party-7", OutletID: 1,
		Debit:          decimal.NewFromInt(100),
		IdempotencyKey: "a-1",
	})
	assert.NoError(t, err)

	// connectivity returns: A pushes, B pulls
	assert.NoError(t, termA.client.SyncNow(ctx, auth.Actor{}))
	assert.NoError(t, termB.client.SyncNow(ctx, auth.Actor{}))
	assert.True(t, termB.balance(t, "party-7", 1).Equal(decimal.NewFromInt(100)))

	// replaying the same pull must not double-apply
	cur, _ := termB.client.curs.Get(ctx, "till-B")
	assert.NoError(t, termB.client.curs.Reset(ctx, "till-B"))
	assert.NoError(t, termB.client.SyncNow(ctx, auth.Actor{}))
	assert.True(t, termB.balance(t, "party-7", 1).Equal(decimal.NewFromInt(100)))
	after, _ := termB.client.curs.Get(ctx, "till-B")
	assert.Equal(t, cur.LastPulledToken, after.LastPulledToken)

	// B takes a payment against the same party
	_, err = termB.svc.PostEntry(ctx, ledger.PostEntryInput{
		PartyPID: "party-7", OutletID: 1,
		Credit:         decimal.NewFromInt(30),
		IdempotencyKey: "b-1",
	})
	assert.NoError(t, err)
	assert.True(t, termB.balance(t, "party-7", 1).Equal(decimal.NewFromInt(70)))

	assert.NoError(t, termB.client.SyncNow(ctx, auth.Actor{}))
	assert.NoError(t, termA.client.SyncNow(ctx, auth.Actor{}))

	assert.True(t, termA.balance(t, "party-7", 1).Equal(decimal.NewFromInt(70)))
	assert.True(t, termB.balance(t, "party-7", 1).Equal(decimal.NewFromInt(70)))

	// a second idle cycle moves nothing
	assert.NoError(t, termA.client.SyncNow(ctx, auth.Actor{}))
	assert.NoError(t, termB.client.SyncNow(ctx, auth.Actor{}))
	var rowsA, rowsB int64
	termA.db.Model(&model.PartyLedger{}).Count(&rowsA)
	termB.db.Model(&model.PartyLedger{}).Count(&rowsB)
	assert.EqualValues(t, 2, rowsA)
	assert.EqualValues(t, 2, rowsB)
}

// An item catalogued on one terminal is sellable on another after a sync.
func TestInventoryFlowsBetweenTerminals(t *testing.T) {
	dsn := fmt.Sprintf("file:%s-hub?mode=memory&cache=shared", t.Name())
	hubDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, hubDB.AutoMigrate(&model.HubChange{}))
	log, _ := logger.NewLogger()
	hubSvc := hub.NewService(hubDB, nil, nil, log, 0)

	termA := newTerminal(t, "till-A", hubSvc)
	termB := newTerminal(t, "till-B", hubSvc)
	ctx := context.Background()

	item := &model.InventoryItem{
		SKU: "COLA", Name: "Cola Can",
		UnitPrice: decimal.NewFromInt(3), OnHand: decimal.NewFromInt(24),
	}
	assert.NoError(t, termA.svc.UpsertItem(ctx, item))
	assert.NoError(t, termA.client.SyncNow(ctx, auth.Actor{}))
	assert.NoError(t, termB.client.SyncNow(ctx, auth.Actor{}))

	_, err = termB.svc.FinalizeSale(ctx, ledger.FinalizeSaleInput{
		Number: "INV-B-1", OutletID: 1,
		Lines: []model.SaleLine{
			{SKU: "COLA", Qty: decimal.NewFromInt(4), UnitPrice: decimal.NewFromInt(3)},
		},
		Paid:           decimal.NewFromInt(12),
		IdempotencyKey: "sale-b-1",
	})
	assert.NoError(t, err)

	assert.NoError(t, termB.client.SyncNow(ctx, auth.Actor{}))
	assert.NoError(t, termA.client.SyncNow(ctx, auth.Actor{}))

	var got model.InventoryItem
	assert.NoError(t, termA.db.Where("sku = ?", "COLA").First(&got).Error)
	assert.True(t, got.OnHand.Equal(decimal.NewFromInt(20)))
}
