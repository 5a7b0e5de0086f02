package cursor

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/possuite/possync/internal/model"
)

// Store persists per-terminal sync watermarks. Advances are guarded in the
// WHERE clause, so a stale or duplicate acknowledgement is a no-op rather
// than a regression.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewStore(db *gorm.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, log: log}
}

// Get returns the cursor for a terminal, creating a zero cursor on first use.
func (s *Store) Get(ctx context.Context, terminalID string) (model.SyncCursor, error) {
	cur := model.SyncCursor{TerminalID: terminalID}
	err := s.db.WithContext(ctx).
		Where("terminal_id = ?", terminalID).
		FirstOrCreate(&cur).Error
	return cur, err
}

// AdvancePushed moves LastPushedSeq forward. Values not strictly greater
// than the stored one are ignored.
func (s *Store) AdvancePushed(ctx context.Context, terminalID string, seq uint64) error {
	res := s.db.WithContext(ctx).Model(&model.SyncCursor{}).
		Where("terminal_id = ? AND last_pushed_seq < ?", terminalID, seq).
		Update("last_pushed_seq", seq)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Debugf("cursor %s: pushed seq %d not newer, ignored", terminalID, seq)
	}
	return nil
}

// AdvancePulled moves LastPulledToken forward under the same guard.
func (s *Store) AdvancePulled(ctx context.Context, terminalID string, token uint64) error {
	res := s.db.WithContext(ctx).Model(&model.SyncCursor{}).
		Where("terminal_id = ? AND last_pulled_token < ?", terminalID, token).
		Update("last_pulled_token", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Debugf("cursor %s: pulled token %d not newer, ignored", terminalID, token)
	}
	return nil
}

// Reset zeroes the cursor for an explicit re-provisioning of the terminal.
func (s *Store) Reset(ctx context.Context, terminalID string) error {
	s.log.Warnf("cursor %s: explicit reset", terminalID)
	return s.db.WithContext(ctx).Model(&model.SyncCursor{}).
		Where("terminal_id = ?", terminalID).
		Updates(map[string]interface{}{"last_pushed_seq": 0, "last_pulled_token": 0}).Error
}
