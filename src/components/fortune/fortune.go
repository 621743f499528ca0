// Package fortune throttles the fortune-of-the-day feature. The text
// generation itself lives outside the core; this store only answers
// whether a user may draw today and burns one day when they do.
package fortune

import (
	"errors"

	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrExhausted = errors.New("no fortune days remaining")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if err := data.Init(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Grant adds days to a user's remaining fortune allowance.
func (s *Store) Grant(guildID, userID string, days int) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"remaining_days": gorm.Expr("remaining_days + ?", days),
		}),
	}).Create(&types.FortuneTarget{
		GuildID:       guildID,
		UserID:        userID,
		RemainingDays: days,
	}).Error
}

// Remaining returns the user's remaining days and last-used date.
func (s *Store) Remaining(guildID, userID string) (int, string, error) {
	var row types.FortuneTarget
	err := s.db.Where("guild_id = ? AND user_id = ?", guildID, userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return row.RemainingDays, row.LastUsedDate, nil
}

// Use consumes one fortune day. A second draw on the same civil day is
// free (the throttle burns at most one day per day). ErrExhausted when
// no days remain.
func (s *Store) Use(guildID, userID string) error {
	today := calendar.Today()
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row types.FortuneTarget
		err := tx.Where("guild_id = ? AND user_id = ?", guildID, userID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrExhausted
		}
		if err != nil {
			return err
		}
		if row.LastUsedDate == today {
			return nil
		}
		if row.RemainingDays <= 0 {
			return ErrExhausted
		}
		return tx.Model(&types.FortuneTarget{}).
			Where("guild_id = ? AND user_id = ?", guildID, userID).
			Updates(map[string]interface{}{
				"remaining_days": row.RemainingDays - 1,
				"last_used_date": today,
			}).Error
	})
}

// Migrate moves the throttle row on account merge unless the target
// already has one; the source row is dropped either way.
func (s *Store) Migrate(from, into string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var target int64
		if err := tx.Model(&types.FortuneTarget{}).Where("user_id = ?", into).Count(&target).Error; err != nil {
			return err
		}
		if target == 0 {
			return tx.Model(&types.FortuneTarget{}).Where("user_id = ?", from).
				Update("user_id", into).Error
		}
		return tx.Where("user_id = ?", from).Delete(&types.FortuneTarget{}).Error
	})
}
