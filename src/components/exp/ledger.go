// Package exp keeps the experience ledger: per-user totals, the
// append-only quest log, one-shot quest markers, and rank
// certifications. Period rankings come from the log, not the totals,
// so manual adjustments and resets never distort a window.
package exp

import (
	"errors"
	"time"

	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Quest types.
const (
	TypeDaily   = "daily"
	TypeWeekly  = "weekly"
	TypeOneTime = "one_time"
	TypeManual  = "manual"
)

// Timeframes for quest counting.
type Timeframe string

const (
	FrameDay  Timeframe = "day"
	FrameWeek Timeframe = "week"
	FrameAll  Timeframe = "all"
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

// Total returns a user's experience total and tier key.
func (l *Ledger) Total(userID string) (int64, string, error) {
	var row types.UserExp
	err := l.db.Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return row.Total, row.Tier, nil
}

// Add credits amount to the user's total. When questType is non-empty
// a quest-log row is appended, stamped with this week's Monday.
func (l *Ledger) Add(userID string, amount int64, questType, subtype string) error {
	now := calendar.Now()
	return l.db.Transaction(func(tx *gorm.DB) error {
		if err := addTotal(tx, userID, amount, now); err != nil {
			return err
		}
		if questType == "" {
			return nil
		}
		return tx.Create(&types.QuestLog{
			UserID:      userID,
			Type:        questType,
			Subtype:     subtype,
			ExpGained:   amount,
			CompletedAt: now,
			WeekStart:   calendar.DateString(calendar.WeekStart(now)),
		}).Error
	})
}

func addTotal(tx *gorm.DB, userID string, amount int64, now time.Time) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total":      gorm.Expr("total + ?", amount),
			"updated_at": now,
		}),
	}).Create(&types.UserExp{UserID: userID, Total: amount, UpdatedAt: now}).Error
}

// Remove debits amount, clamping the total at zero.
func (l *Ledger) Remove(userID string, amount int64) error {
	now := calendar.Now()
	return l.db.Model(&types.UserExp{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"total":      gorm.Expr("CASE WHEN total > ? THEN total - ? ELSE 0 END", amount, amount),
			"updated_at": now,
		}).Error
}

// SetTier stores the user's current tier key.
func (l *Ledger) SetTier(userID, tier string) error {
	return l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier"}),
	}).Create(&types.UserExp{UserID: userID, Tier: tier, UpdatedAt: calendar.Now()}).Error
}

// QuestCount counts quest-log rows for (user, type, subtype) within
// the timeframe. An empty subtype matches all subtypes of the type.
func (l *Ledger) QuestCount(userID, questType, subtype string, frame Timeframe) (int, error) {
	q := l.db.Model(&types.QuestLog{}).
		Where("user_id = ? AND type = ?", userID, questType)
	if subtype != "" {
		q = q.Where("subtype = ?", subtype)
	}
	now := calendar.Now()
	switch frame {
	case FrameDay:
		start, end := calendar.Window(calendar.PeriodDaily, now)
		q = q.Where("completed_at >= ? AND completed_at < ?", start, end)
	case FrameWeek:
		q = q.Where("week_start = ?", calendar.DateString(calendar.WeekStart(now)))
	case FrameAll:
	}
	var n int64
	err := q.Count(&n).Error
	return int(n), err
}

// CompleteOneShot records a write-once quest. Returns false when the
// user already holds the marker.
func (l *Ledger) CompleteOneShot(userID, questName string) (bool, error) {
	res := l.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&types.OneTimeQuest{
		UserID:    userID,
		QuestName: questName,
		CreatedAt: calendar.Now(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// HasOneShot reports whether the marker exists.
func (l *Ledger) HasOneShot(userID, questName string) (bool, error) {
	var n int64
	err := l.db.Model(&types.OneTimeQuest{}).
		Where("user_id = ? AND quest_name = ?", userID, questName).
		Count(&n).Error
	return n > 0, err
}

// CertifiedLevel returns the stored certified level for a rank kind,
// zero when never certified.
func (l *Ledger) CertifiedLevel(userID, rankType string) (int, error) {
	var row types.RankCertification
	err := l.db.Where("user_id = ? AND rank_type = ?", userID, rankType).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Level, nil
}

// SetCertifiedLevel upserts the certified level for a rank kind.
func (l *Ledger) SetCertifiedLevel(userID, rankType string, level int) error {
	return l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "rank_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"level", "certified_at"}),
	}).Create(&types.RankCertification{
		UserID:      userID,
		RankType:    rankType,
		Level:       level,
		CertifiedAt: calendar.Now(),
	}).Error
}

// PeriodTotal is one row of a period ranking.
type PeriodTotal struct {
	UserID string
	Exp    int64
}

// PeriodRankings sums quest-log exp per user for the window, ordered
// descending.
func (l *Ledger) PeriodRankings(period calendar.Period, base time.Time) ([]PeriodTotal, error) {
	q := l.db.Model(&types.QuestLog{}).
		Select("user_id, COALESCE(SUM(exp_gained), 0) AS exp")
	if period != calendar.PeriodAll {
		start, end := calendar.Window(period, base)
		q = q.Where("completed_at >= ? AND completed_at < ?", start, end)
	}
	var out []PeriodTotal
	err := q.Group("user_id").Order("exp DESC").Scan(&out).Error
	return out, err
}

// UserPeriodRank returns the 1-based rank and window exp of one user.
func (l *Ledger) UserPeriodRank(userID string, period calendar.Period, base time.Time) (rank int, expSum int64, total int, err error) {
	rows, err := l.PeriodRankings(period, base)
	if err != nil {
		return 0, 0, 0, err
	}
	rank = 1
	for _, r := range rows {
		if r.UserID == userID {
			expSum = r.Exp
		}
	}
	for _, r := range rows {
		if r.Exp > expSum {
			rank++
		}
	}
	return rank, expSum, len(rows), nil
}

// ResetUser clears one user's totals, quest log, and one-shots.
// Configuration and certifications elsewhere are untouched.
func (l *Ledger) ResetUser(userID string) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&types.UserExp{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&types.QuestLog{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&types.OneTimeQuest{}).Error
	})
}

// ResetAll clears every user's totals, quest log, and one-shots.
func (l *Ledger) ResetAll() error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&types.UserExp{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&types.QuestLog{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&types.OneTimeQuest{}).Error
	})
}
