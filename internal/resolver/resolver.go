package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/possuite/possync/internal/ledger"
	"github.com/possuite/possync/internal/model"
)

// Outcome classifies what Apply did with an envelope. Stale and duplicate
// are expected steady-state results, not errors.
type Outcome int

const (
	Applied Outcome = iota
	SkippedStale
	SkippedDuplicate
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case SkippedStale:
		return "skipped_stale"
	case SkippedDuplicate:
		return "skipped_duplicate"
	default:
		return "rejected"
	}
}

// Resolver applies incoming envelopes to the local replica set under
// last-writer-wins at snapshot granularity. Each apply is one local
// transaction, so a crash mid-batch leaves a clean applied-up-to-here
// state that a re-pull resumes from.
type Resolver struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Resolver {
	return &Resolver{db: db, log: log}
}

// Apply resolves one envelope against local state. Balance snapshots are
// verified against their ledger rows before the transaction commits; a
// mismatch rolls back and returns Rejected so the pull loop halts without
// advancing its cursor.
func (r *Resolver) Apply(ctx context.Context, env model.SyncEnvelope) (Outcome, error) {
	out := Rejected
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := r.applyOne(tx, env)
		if err != nil {
			return err
		}
		if o == Applied && env.Kind == model.KindPartyBalance {
			var snap model.PartyBalance
			if err := tx.Where("public_id = ?", env.PublicID).First(&snap).Error; err != nil {
				return err
			}
			if err := ledger.VerifySnapshot(tx, &snap); err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	switch {
	case err != nil && errors.Is(err, ledger.ErrBalanceMismatch):
		r.log.Errorf("apply %s %s: %v", env.Kind, env.PublicID, err)
		return Rejected, err
	case err != nil:
		return Rejected, err
	case out == SkippedStale || out == SkippedDuplicate:
		r.log.Debugf("apply %s %s: %s", env.Kind, env.PublicID, out)
	}
	return out, nil
}

func (r *Resolver) applyOne(tx *gorm.DB, env model.SyncEnvelope) (Outcome, error) {
	existing, found, err := r.findExisting(tx, env)
	if err != nil {
		return Rejected, err
	}

	if !found {
		if env.Op == model.OpDelete {
			// Tombstone for an entity this terminal never had.
			return SkippedDuplicate, nil
		}
		incoming, err := decode(env)
		if err != nil {
			return Rejected, err
		}
		return Applied, tx.Create(incoming).Error
	}

	m := existing.Meta()
	cmp := model.CompareStamp(env.StampUTC, env.Version, m.StampUTC, m.Version)
	if env.Op == model.OpDelete {
		switch {
		case m.Void:
			return SkippedDuplicate, nil
		case cmp == 0:
			return SkippedDuplicate, nil
		case cmp < 0:
			return SkippedStale, nil
		}
		m.Void = true
		m.StampUTC = env.StampUTC
		m.Version = env.Version
		return Applied, tx.Save(existing).Error
	}

	switch {
	case cmp == 0:
		return SkippedDuplicate, nil
	case cmp < 0:
		return SkippedStale, nil
	}
	incoming, err := decode(env)
	if err != nil {
		return Rejected, err
	}
	incoming.Meta().ID = m.ID
	return Applied, tx.Save(incoming).Error
}

// findExisting locates the local replica for an envelope. Balance snapshots
// fall back to their (party, outlet) scope: two terminals can mint snapshot
// rows for the same scope under different public ids, and the scope row is
// the one the unique index protects.
func (r *Resolver) findExisting(tx *gorm.DB, env model.SyncEnvelope) (model.Replicated, bool, error) {
	existing, err := model.NewByKind(env.Kind)
	if err != nil {
		return nil, false, err
	}
	err = tx.Where("public_id = ?", env.PublicID).First(existing).Error
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	if env.Kind == model.KindPartyBalance && env.Op == model.OpUpsert {
		var scope model.PartyBalance
		if err := json.Unmarshal(env.Payload, &scope); err != nil {
			return nil, false, fmt.Errorf("decode %s %s: %w", env.Kind, env.PublicID, err)
		}
		var local model.PartyBalance
		err = tx.Where("party_pid = ? AND outlet_id = ?", scope.PartyPID, scope.OutletID).
			First(&local).Error
		if err == nil {
			return &local, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}
	return nil, false, nil
}

func decode(env model.SyncEnvelope) (model.Replicated, error) {
	e, err := model.NewByKind(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, e); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", env.Kind, env.PublicID, err)
	}
	m := e.Meta()
	m.PublicID = env.PublicID
	m.StampUTC = env.StampUTC
	m.Version = env.Version
	return e, nil
}
