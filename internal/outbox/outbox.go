package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/possuite/possync/internal/model"
)

// Outbox appends replication records next to business rows. Enqueue calls
// take the caller's open transaction so that the outbox row and the entity
// row become durable together or not at all.
type Outbox struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// New constructs an outbox over the terminal-local database.
func New(db *gorm.DB, log *zap.SugaredLogger) *Outbox {
	return &Outbox{db: db, log: log}
}

// EnqueueUpsert snapshots the entity and appends an upsert record inside
// tx. A serialization failure fails the enclosing transaction: a mutation
// must not commit without its replication record.
func (o *Outbox) EnqueueUpsert(tx *gorm.DB, e model.Replicated) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("snapshot %s %s: %w", e.Kind(), e.Meta().PublicID, err)
	}
	m := e.Meta()
	rec := &model.OutboxRecord{
		Kind:     e.Kind(),
		Op:       model.OpUpsert,
		PublicID: m.PublicID,
		Payload:  string(payload),
		StampUTC: m.StampUTC,
		Version:  m.Version,
	}
	return tx.Create(rec).Error
}

// EnqueueDelete appends a tombstone record inside tx. The stamp must be the
// one the voided row was committed with.
func (o *Outbox) EnqueueDelete(tx *gorm.DB, ref model.EntityRef, stamp time.Time, version uint64) error {
	rec := &model.OutboxRecord{
		Kind:     ref.Kind,
		Op:       model.OpDelete,
		PublicID: ref.PublicID,
		StampUTC: stamp.UTC(),
		Version:  version,
	}
	return tx.Create(rec).Error
}

// Pending returns unacknowledged records with sequence above afterSeq, in
// commit order.
func (o *Outbox) Pending(ctx context.Context, afterSeq uint64, limit int) ([]model.OutboxRecord, error) {
	var recs []model.OutboxRecord
	err := o.db.WithContext(ctx).
		Where("acked = ? AND seq > ?", false, afterSeq).
		Order("seq").Limit(limit).Find(&recs).Error
	return recs, err
}

// MarkAcked flags every record up to and including uptoSeq as confirmed by
// the hub. Already-acked records are untouched, so duplicate
// acknowledgements are harmless.
func (o *Outbox) MarkAcked(ctx context.Context, uptoSeq uint64) error {
	now := time.Now().UTC()
	res := o.db.WithContext(ctx).Model(&model.OutboxRecord{}).
		Where("acked = ? AND seq <= ?", false, uptoSeq).
		Updates(map[string]interface{}{"acked": true, "acked_at": &now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		o.log.Debugf("outbox acked %d records up to seq %d", res.RowsAffected, uptoSeq)
	}
	return nil
}

// PurgeAcked removes acknowledged records acked before the given time.
// Retention is the operator's call, so purging is explicit.
func (o *Outbox) PurgeAcked(ctx context.Context, before time.Time) (int64, error) {
	res := o.db.WithContext(ctx).
		Where("acked = ? AND acked_at < ?", true, before).
		Delete(&model.OutboxRecord{})
	return res.RowsAffected, res.Error
}
