package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/possuite/possync/internal/model"
)

// ErrBalanceMismatch means a balance snapshot disagrees with the sum of
// the ledger rows in its scope. A sync apply that trips this must not
// commit; propagating a silently wrong balance is worse than pausing.
var ErrBalanceMismatch = errors.New("ledger balance invariant violated")

// SumEntries computes the running balance for one (party, outlet) scope as
// the sum of debit minus credit over non-void rows. The summation stays in
// decimal arithmetic; SQL aggregate functions would round through floats on
// some engines.
func SumEntries(tx *gorm.DB, partyPID string, outletID int64) (decimal.Decimal, error) {
	var rows []model.PartyLedger
	err := tx.Where("party_pid = ? AND outlet_id = ? AND void = ?", partyPID, outletID, false).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.Debit.Sub(r.Credit))
	}
	return sum, nil
}

// VerifySnapshot checks a just-applied balance snapshot against the rows it
// claims to summarize. Equality is exact, no rounding slack.
func VerifySnapshot(tx *gorm.DB, snap *model.PartyBalance) error {
	sum, err := SumEntries(tx, snap.PartyPID, snap.OutletID)
	if err != nil {
		return err
	}
	if !sum.Equal(snap.Balance) {
		return fmt.Errorf("%w: party %s outlet %d snapshot %s, ledger sum %s",
			ErrBalanceMismatch, snap.PartyPID, snap.OutletID, snap.Balance, sum)
	}
	return nil
}
