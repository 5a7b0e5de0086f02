package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/possuite/possync/internal/model"
)

// Service is the hub's side of the sync protocol: it is the ordering
// authority. Every accepted envelope gets the next value of one global
// monotonic token; (origin, origin seq) deduplicates re-pushed batches.
type Service struct {
	db        *gorm.DB
	rdb       *redis.Client
	writer    *kafka.Writer
	log       *zap.SugaredLogger
	pullLimit int
}

// NewService constructs the hub. rdb and writer may be nil; the watermark
// cache and the downstream feed are accelerations, not correctness.
func NewService(db *gorm.DB, rdb *redis.Client, writer *kafka.Writer, log *zap.SugaredLogger, pullLimit int) *Service {
	if pullLimit <= 0 {
		pullLimit = 500
	}
	return &Service{db: db, rdb: rdb, writer: writer, log: log, pullLimit: pullLimit}
}

// Push records a terminal's batch into the global change log and returns
// the highest origin sequence accepted. Already-seen sequences are ignored
// without error; an insert failure mid-batch yields a partial ack and the
// terminal resends the tail next cycle.
func (s *Service) Push(ctx context.Context, batch model.SyncBatch) (model.PushAck, error) {
	if len(batch.Changes) == 0 {
		return model.PushAck{}, nil
	}
	maxSeq := batch.Changes[len(batch.Changes)-1].Seq
	if wm, ok := s.cachedWatermark(ctx, batch.TerminalID); ok && maxSeq <= wm &&
		s.watermarkPersisted(ctx, batch.TerminalID, wm) {
		return model.PushAck{AcceptedUpToSeq: wm}, nil
	}

	accepted, fresh := s.record(ctx, batch.TerminalID, batch.Changes)
	s.cacheWatermark(ctx, batch.TerminalID, accepted)
	s.publish(ctx, fresh)
	if len(fresh) > 0 {
		s.log.Infof("accepted %d changes from %s up to seq %d", len(fresh), batch.TerminalID, accepted)
	}
	return model.PushAck{AcceptedUpToSeq: accepted}, nil
}

// record lands the batch in one transaction so tokens become visible in
// commit order: a puller must never observe a token while a lower one is
// still in flight, or the lower change would be stranded behind every
// cursor that advanced past it. On Postgres the log is locked for the
// duration, which serializes concurrent pushes; sqlite serializes writers
// on its own. When a change cannot be inserted, the transaction is retried
// with the head of the batch, so everything before the bad change is still
// accepted and the terminal resends the tail.
func (s *Service) record(ctx context.Context, originID string, changes []model.BatchChange) (uint64, []model.HubChange) {
	for len(changes) > 0 {
		var accepted uint64
		var fresh []model.HubChange
		failed := -1
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := lockChangeLog(tx); err != nil {
				return err
			}
			for i, ch := range changes {
				rec := model.HubChange{
					OriginID:  originID,
					OriginSeq: ch.Seq,
					Kind:      ch.Kind,
					Op:        ch.Op,
					PublicID:  ch.PublicID,
					Payload:   string(ch.Payload),
					StampUTC:  ch.StampUTC,
					Version:   ch.Version,
				}
				res := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "origin_id"}, {Name: "origin_seq"}},
					DoNothing: true,
				}).Create(&rec)
				if res.Error != nil {
					failed = i
					s.log.Errorf("push from %s stopped at seq %d: %v", originID, ch.Seq, res.Error)
					return res.Error
				}
				if res.RowsAffected == 0 {
					s.log.Debugf("push from %s seq %d already seen", originID, ch.Seq)
				} else {
					fresh = append(fresh, rec)
				}
				accepted = ch.Seq
			}
			return nil
		})
		if err == nil {
			return accepted, fresh
		}
		if failed <= 0 {
			return 0, nil
		}
		changes = changes[:failed]
	}
	return 0, nil
}

// lockChangeLog serializes writers so token order equals commit order.
// EXCLUSIVE still admits plain reads, so pulls are never blocked.
func lockChangeLog(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("LOCK TABLE hub_change IN EXCLUSIVE MODE").Error
}

// Pull returns the change-log slice above sinceToken addressed to the
// terminal, grouped into per-origin batches that preserve token order. The
// scan window includes the terminal's own changes so HighestToken always
// moves the caller's cursor past them, but they are not echoed back.
func (s *Service) Pull(ctx context.Context, terminalID string, sinceToken uint64) (model.PullResult, error) {
	var rows []model.HubChange
	err := s.db.WithContext(ctx).
		Where("token > ?", sinceToken).
		Order("token").Limit(s.pullLimit).
		Find(&rows).Error
	if err != nil {
		return model.PullResult{}, fmt.Errorf("scan change log: %w", err)
	}

	res := model.PullResult{HighestToken: sinceToken}
	var cur *model.SyncBatch
	for _, row := range rows {
		res.HighestToken = row.Token
		if row.OriginID == terminalID {
			cur = nil
			continue
		}
		if cur == nil || cur.TerminalID != row.OriginID {
			res.Batches = append(res.Batches, model.SyncBatch{
				TerminalID: row.OriginID,
				FromToken:  sinceToken,
			})
			cur = &res.Batches[len(res.Batches)-1]
		}
		cur.Changes = append(cur.Changes, row.Change())
	}
	return res, nil
}

func (s *Service) watermarkKey(terminalID string) string {
	return "hub:ack:" + terminalID
}

func (s *Service) cachedWatermark(ctx context.Context, terminalID string) (uint64, bool) {
	if s.rdb == nil {
		return 0, false
	}
	str, err := s.rdb.Get(ctx, s.watermarkKey(terminalID)).Result()
	if err != nil {
		return 0, false
	}
	wm, err := strconv.ParseUint(str, 10, 64)
	return wm, err == nil
}

// watermarkPersisted confirms the cached watermark against the change log.
// The cache can outlive a restored database, and an ack must never rest on
// Redis alone.
func (s *Service) watermarkPersisted(ctx context.Context, terminalID string, seq uint64) bool {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.HubChange{}).
		Where("origin_id = ? AND origin_seq = ?", terminalID, seq).
		Count(&n).Error
	if err != nil {
		s.log.Warnf("verify watermark for %s: %v", terminalID, err)
		return false
	}
	return n > 0
}

func (s *Service) cacheWatermark(ctx context.Context, terminalID string, seq uint64) {
	if s.rdb == nil || seq == 0 {
		return
	}
	if err := s.rdb.Set(ctx, s.watermarkKey(terminalID), strconv.FormatUint(seq, 10), 10*time.Minute).Err(); err != nil {
		s.log.Warnf("cache watermark for %s: %v", terminalID, err)
	}
}

// publish feeds accepted changes to the downstream topic, keyed by entity
// so per-entity order survives partitioning. Best effort: the change log is
// the source of truth, consumers can re-read it.
func (s *Service) publish(ctx context.Context, changes []model.HubChange) {
	if s.writer == nil || len(changes) == 0 {
		return
	}
	msgs := make([]kafka.Message, len(changes))
	for i, c := range changes {
		value, err := json.Marshal(c.Change())
		if err != nil {
			s.log.Warnf("encode change token %d: %v", c.Token, err)
			return
		}
		msgs[i] = kafka.Message{
			Key:   []byte(c.PublicID),
			Value: value,
			Time:  time.Now(),
		}
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.log.Warnf("publish %d changes: %v", len(msgs), err)
	}
}
