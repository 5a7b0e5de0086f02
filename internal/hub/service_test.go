package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/possuite/possync/internal/logger"
	"github.com/possuite/possync/internal/model"
)

var stamp = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestHub(t *testing.T) (*Service, *gorm.DB) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.HubChange{}))
	log, _ := logger.NewLogger()
	return NewService(db, nil, nil, log, 0), db
}

func change(seq uint64, pid string) model.BatchChange {
	payload, _ := json.Marshal(map[string]string{"public_id": pid, "name": "x"})
	return model.BatchChange{
		Seq: seq,
		SyncEnvelope: model.SyncEnvelope{
			Kind:     model.KindParty,
			Op:       model.OpUpsert,
			PublicID: pid,
			Payload:  payload,
			StampUTC: stamp,
			Version:  1,
		},
	}
}

func TestPush_AssignsMonotonicTokens(t *testing.T) {
	svc, db := newTestHub(t)
	ctx := context.Background()

	ack, err := svc.Push(ctx, model.SyncBatch{
		TerminalID: "till-1",
		Changes:    []model.BatchChange{change(1, "a"), change(2, "b")},
	})
	assert.NoError(t, err)
	assert.EqualValues(t, 2, ack.AcceptedUpToSeq)

	var rows []model.HubChange
	assert.NoError(t, db.Order("token").Find(&rows).Error)
	assert.Len(t, rows, 2)
	assert.True(t, rows[0].Token < rows[1].Token)
	assert.Equal(t, "till-1", rows[0].OriginID)
}

func TestPush_DuplicateSequencesIgnoredWithoutError(t *testing.T) {
	svc, db := newTestHub(t)
	ctx := context.Background()

	batch := model.SyncBatch{
		TerminalID: "till-1",
		Changes:    []model.BatchChange{change(1, "a"), change(2, "b")},
	}
	_, err := svc.Push(ctx, batch)
	assert.NoError(t, err)

	// a retried batch, plus one genuinely new change
	batch.Changes = append(batch.Changes, change(3, "c"))
	ack, err := svc.Push(ctx, batch)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, ack.AcceptedUpToSeq)

	var count int64
	db.Model(&model.HubChange{}).Count(&count)
	assert.EqualValues(t, 3, count)
}

func TestPush_EmptyBatch(t *testing.T) {
	svc, _ := newTestHub(t)
	ack, err := svc.Push(context.Background(), model.SyncBatch{TerminalID: "till-1"})
	assert.NoError(t, err)
	assert.EqualValues(t, 0, ack.AcceptedUpToSeq)
}

func TestPull_ExcludesOriginButAdvancesToken(t *testing.T) {
	svc, _ := newTestHub(t)
	ctx := context.Background()

	_, err := svc.Push(ctx, model.SyncBatch{
		TerminalID: "till-1",
		Changes:    []model.BatchChange{change(1, "a"), change(2, "b")},
	})
	assert.NoError(t, err)
	_, err = svc.Push(ctx, model.SyncBatch{
		TerminalID: "till-2",
		Changes:    []model.BatchChange{change(1, "c")},
	})
	assert.NoError(t, err)

	// till-1 sees only till-2's change but its token window covers its own
	res, err := svc.Pull(ctx, "till-1", 0)
	assert.NoError(t, err)
	assert.Len(t, res.Batches, 1)
	assert.Equal(t, "till-2", res.Batches[0].TerminalID)
	assert.Len(t, res.Batches[0].Changes, 1)
	assert.EqualValues(t, 3, res.HighestToken)

	// resuming from the returned token yields nothing new
	res, err = svc.Pull(ctx, "till-1", res.HighestToken)
	assert.NoError(t, err)
	assert.Len(t, res.Batches, 0)
	assert.EqualValues(t, 3, res.HighestToken)
}

func TestPull_GroupsInterleavedOrigins(t *testing.T) {
	svc, _ := newTestHub(t)
	ctx := context.Background()

	_, _ = svc.Push(ctx, model.SyncBatch{TerminalID: "till-1", Changes: []model.BatchChange{change(1, "a")}})
	_, _ = svc.Push(ctx, model.SyncBatch{TerminalID: "till-2", Changes: []model.BatchChange{change(1, "b")}})
	_, _ = svc.Push(ctx, model.SyncBatch{TerminalID: "till-1", Changes: []model.BatchChange{change(2, "c")}})

	res, err := svc.Pull(ctx, "till-3", 0)
	assert.NoError(t, err)
	assert.Len(t, res.Batches, 3)
	assert.Equal(t, "till-1", res.Batches[0].TerminalID)
	assert.Equal(t, "till-2", res.Batches[1].TerminalID)
	assert.Equal(t, "till-1", res.Batches[2].TerminalID)
	assert.EqualValues(t, 3, res.HighestToken)
}

// Tokens become visible in commit order, so a pull taken between
// concurrent pushes can never skip past a change that lands later with a
// lower token. After the dust settles every accepted change must sit at or
// below the pull window's high token.
func TestPush_ConcurrentPushesLeaveNoChangeBehindPullWindow(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "hub.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.HubChange{}))
	log, _ := logger.NewLogger()
	svc := NewService(db, nil, nil, log, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, till := range []string{"till-1", "till-2", "till-3"} {
		till := till
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := uint64(1); seq <= 5; seq++ {
				_, err := svc.Push(ctx, model.SyncBatch{
					TerminalID: till,
					Changes:    []model.BatchChange{change(seq, fmt.Sprintf("%s-%d", till, seq))},
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	res, err := svc.Pull(ctx, "till-9", 0)
	assert.NoError(t, err)
	total := 0
	for _, b := range res.Batches {
		total += len(b.Changes)
	}
	assert.Equal(t, 15, total)

	// nothing is left above the window
	res, err = svc.Pull(ctx, "till-9", res.HighestToken)
	assert.NoError(t, err)
	assert.Len(t, res.Batches, 0)
}

// A cached watermark that outlived a restored database must not ack a
// batch the change log has never seen.
func TestPush_StaleWatermarkFallsThroughToDatabase(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.HubChange{}))

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet("hub:ack:till-1").SetVal("2")
	mock.ExpectSet("hub:ack:till-1", "2", 10*time.Minute).SetVal("OK")

	log, _ := logger.NewLogger()
	svc := NewService(db, rdb, nil, log, 0)

	ack, err := svc.Push(context.Background(), model.SyncBatch{
		TerminalID: "till-1",
		Changes:    []model.BatchChange{change(1, "a"), change(2, "b")},
	})
	assert.NoError(t, err)
	assert.EqualValues(t, 2, ack.AcceptedUpToSeq)

	var count int64
	db.Model(&model.HubChange{}).Count(&count)
	assert.EqualValues(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPush_RedisWatermarkShortCircuitsReplay(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.HubChange{}))

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet("hub:ack:till-1").RedisNil()
	mock.ExpectSet("hub:ack:till-1", "2", 10*time.Minute).SetVal("OK")
	mock.ExpectGet("hub:ack:till-1").SetVal("2")

	log, _ := logger.NewLogger()
	svc := NewService(db, rdb, nil, log, 0)
	ctx := context.Background()

	batch := model.SyncBatch{
		TerminalID: "till-1",
		Changes:    []model.BatchChange{change(1, "a"), change(2, "b")},
	}
	ack, err := svc.Push(ctx, batch)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, ack.AcceptedUpToSeq)

	// replayed batch is answered from the cached watermark
	ack, err = svc.Push(ctx, batch)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, ack.AcceptedUpToSeq)
	assert.NoError(t, mock.ExpectationsWereMet())
}
