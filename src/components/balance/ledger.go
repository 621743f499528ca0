// Package balance keeps the currency ledger: per-user balances, the
// transfer journal, fee tiers and daily transfer caps, and the
// admin-issued certification (auth) tables.
package balance

import (
	"errors"
	"fmt"
	"sort"

	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Default fee knee when no tiers are configured.
const (
	defaultFeeLow    = 500
	defaultFeeHigh   = 1000
	defaultFeeKnee   = 50000
	defaultDailySend = 3
	defaultDailyRecv = 5
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNonPositive       = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("cannot transfer to self")
	ErrOverDailySend     = errors.New("daily send limit reached")
	ErrOverDailyReceive  = errors.New("daily receive limit reached")
)

type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Ledger, error) {
	if err := data.Init(db); err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Get returns a user's balance; 0 when no row exists.
func (l *Ledger) Get(userID string) (int64, error) {
	var row types.Balance
	err := l.db.Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Amount, nil
}

// Give credits amount to a user, creating the row if needed.
func (l *Ledger) Give(userID string, amount int64) error {
	return give(l.db, userID, amount)
}

func give(tx *gorm.DB, userID string, amount int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"amount": gorm.Expr("amount + ?", amount),
		}),
	}).Create(&types.Balance{UserID: userID, Amount: amount}).Error
}

// Take debits amount without clamping. Callers check the balance
// first; a negative balance observed afterwards is an invariant breach.
func (l *Ledger) Take(userID string, amount int64) error {
	return give(l.db, userID, -amount)
}

// transfer moves amount from sender to receiver inside tx, debiting
// amount+fee with a conditional update so the balance can never go
// negative even under concurrent writers. The journal row is written
// in the same transaction, keeping cap counts consistent with
// balances.
func transfer(tx *gorm.DB, sender, receiver string, amount, fee int64) error {
	res := tx.Model(&types.Balance{}).
		Where("user_id = ? AND amount >= ?", sender, amount+fee).
		Update("amount", gorm.Expr("amount - ?", amount+fee))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientFunds
	}
	if err := give(tx, receiver, amount); err != nil {
		return err
	}
	return tx.Create(&types.Transfer{
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Fee:       fee,
		CreatedAt: calendar.Now(),
	}).Error
}

// Transfer moves amount from sender to receiver, debiting amount+fee,
// in one transaction.
func (l *Ledger) Transfer(sender, receiver string, amount, fee int64) error {
	if amount <= 0 {
		return ErrNonPositive
	}
	if fee < 0 {
		return fmt.Errorf("negative fee %d", fee)
	}
	return l.db.Transaction(func(tx *gorm.DB) error {
		return transfer(tx, sender, receiver, amount, fee)
	})
}

// Send runs the full transfer command: validation, fee selection,
// daily caps, then the transactional move. Cap counts and the debit
// run in one transaction so a pair of racing sends cannot both pass
// the cap check. Errors are the sentinel values above so the adapter
// can word each rejection.
func (l *Ledger) Send(guildID, sender, receiver string, amount int64) (fee int64, err error) {
	if amount <= 0 {
		return 0, ErrNonPositive
	}
	if sender == receiver {
		return 0, ErrSelfTransfer
	}

	sendLimit, recvLimit, err := l.TransferLimits(guildID)
	if err != nil {
		return 0, err
	}
	fee, err = l.FeeFor(guildID, amount)
	if err != nil {
		return 0, err
	}

	err = l.db.Transaction(func(tx *gorm.DB) error {
		sent, err := dailyTransferCount(tx, sender, true)
		if err != nil {
			return err
		}
		if sent >= sendLimit {
			return ErrOverDailySend
		}
		received, err := dailyTransferCount(tx, receiver, false)
		if err != nil {
			return err
		}
		if received >= recvLimit {
			return ErrOverDailyReceive
		}
		return transfer(tx, sender, receiver, amount, fee)
	})
	if err != nil {
		return 0, err
	}
	return fee, nil
}

// FeeFor selects the fee of the largest configured tier whose
// min_amount does not exceed amount. With no tiers configured the
// default two-step schedule applies.
func (l *Ledger) FeeFor(guildID string, amount int64) (int64, error) {
	var tiers []types.FeeTier
	if err := l.db.Where("guild_id = ?", guildID).
		Order("min_amount ASC").Find(&tiers).Error; err != nil {
		return 0, err
	}
	if len(tiers) == 0 {
		if amount < defaultFeeKnee {
			return defaultFeeLow, nil
		}
		return defaultFeeHigh, nil
	}
	var fee int64
	matched := false
	for _, t := range tiers {
		if t.MinAmount <= amount {
			fee = t.Fee
			matched = true
		}
	}
	if !matched {
		// Below the lowest tier; charge the lowest tier's fee.
		fee = tiers[0].Fee
	}
	return fee, nil
}

// FeeTiers returns the ordered tier list.
func (l *Ledger) FeeTiers(guildID string) ([]types.FeeTier, error) {
	var tiers []types.FeeTier
	err := l.db.Where("guild_id = ?", guildID).Order("min_amount ASC").Find(&tiers).Error
	return tiers, err
}

// SetFeeTiers replaces the guild's tier list. Malformed entries
// (negative bounds or fees) are dropped and the rest sorted.
func (l *Ledger) SetFeeTiers(guildID string, tiers []types.FeeTier) error {
	clean := make([]types.FeeTier, 0, len(tiers))
	for _, t := range tiers {
		if t.MinAmount < 0 || t.Fee < 0 {
			continue
		}
		t.GuildID = guildID
		clean = append(clean, t)
	}
	sort.Slice(clean, func(i, j int) bool { return clean[i].MinAmount < clean[j].MinAmount })
	return l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("guild_id = ?", guildID).Delete(&types.FeeTier{}).Error; err != nil {
			return err
		}
		if len(clean) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&clean).Error
	})
}

// ParseFeeTiers coerces loosely-typed tier entries (JSON numbers come
// in as float64) and drops malformed ones.
func ParseFeeTiers(raw []map[string]interface{}) []types.FeeTier {
	out := make([]types.FeeTier, 0, len(raw))
	for _, m := range raw {
		min, okMin := toInt64(m["min_amount"])
		fee, okFee := toInt64(m["fee"])
		if !okMin || !okFee {
			continue
		}
		out = append(out, types.FeeTier{MinAmount: min, Fee: fee})
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case string:
		var out int64
		if _, err := fmt.Sscanf(n, "%d", &out); err == nil {
			return out, true
		}
	}
	return 0, false
}

// DailyTransferCount counts today's journal rows where the user was
// sender (asSender) or receiver.
func (l *Ledger) DailyTransferCount(userID string, asSender bool) (int, error) {
	return dailyTransferCount(l.db, userID, asSender)
}

func dailyTransferCount(tx *gorm.DB, userID string, asSender bool) (int, error) {
	start, end := calendar.Window(calendar.PeriodDaily, calendar.Now())
	col := "receiver"
	if asSender {
		col = "sender"
	}
	var n int64
	err := tx.Model(&types.Transfer{}).
		Where(col+" = ? AND created_at >= ? AND created_at < ?", userID, start, end).
		Count(&n).Error
	return int(n), err
}

// TransferLimits returns the guild's daily send/receive caps.
func (l *Ledger) TransferLimits(guildID string) (send, receive int, err error) {
	var row types.TransferLimit
	e := l.db.Where("guild_id = ?", guildID).Take(&row).Error
	if errors.Is(e, gorm.ErrRecordNotFound) {
		return defaultDailySend, defaultDailyRecv, nil
	}
	if e != nil {
		return 0, 0, e
	}
	return row.DailySend, row.DailyReceive, nil
}

// SetTransferLimits overrides the guild's daily caps.
func (l *Ledger) SetTransferLimits(guildID string, send, receive int) error {
	return l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"daily_send", "daily_receive"}),
	}).Create(&types.TransferLimit{GuildID: guildID, DailySend: send, DailyReceive: receive}).Error
}

// BulkGrant credits every listed user in one transaction and returns
// the credited count.
func (l *Ledger) BulkGrant(userIDs []string, amount int64) (int, error) {
	if amount <= 0 {
		return 0, ErrNonPositive
	}
	err := l.db.Transaction(func(tx *gorm.DB) error {
		for _, uid := range userIDs {
			if err := give(tx, uid, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(userIDs), nil
}
