// Package attendance records daily check-ins. The evaluator reads the
// week-to-date count for milestone bonuses; rows migrate on account
// merge via the UserIDSwap bus event.
package attendance

import (
	"context"
	"log"

	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Feature is the allowlist namespace for attendance commands.
const Feature = "attendance"

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if err := data.Init(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Record marks today's attendance. Returns false when the user already
// checked in today.
func (s *Store) Record(guildID, userID string) (bool, error) {
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&types.Attendance{
		GuildID:   guildID,
		UserID:    userID,
		Date:      calendar.Today(),
		CreatedAt: calendar.Now(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// WeekCount counts this week's attendances including today's.
func (s *Store) WeekCount(guildID, userID string) (int, error) {
	start, end := calendar.Window(calendar.PeriodWeekly, calendar.Now())
	var n int64
	err := s.db.Model(&types.Attendance{}).
		Where("guild_id = ? AND user_id = ? AND date >= ? AND date < ?",
			guildID, userID, calendar.DateString(start), calendar.DateString(end)).
		Count(&n).Error
	return int(n), err
}

// Streak counts consecutive civil days of attendance ending today.
func (s *Store) Streak(guildID, userID string) (int, error) {
	var rows []types.Attendance
	err := s.db.Where("guild_id = ? AND user_id = ?", guildID, userID).
		Order("date DESC").Limit(366).Find(&rows).Error
	if err != nil {
		return 0, err
	}
	streak := 0
	day := calendar.Midnight(calendar.Now())
	for _, r := range rows {
		if r.Date != calendar.DateString(day) {
			break
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak, nil
}

// ListenSwaps migrates attendance rows when accounts merge. Runs until
// ctx is canceled.
func (s *Store) ListenSwaps(ctx context.Context, b *bus.Bus) {
	ch := b.Subscribe(bus.TopicUserIDSwap)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			from, into := ev.Fields["from"], ev.Fields["into"]
			if from == "" || into == "" {
				continue
			}
			if err := s.migrate(from, into); err != nil {
				log.Printf("attendance: migrate %s -> %s: %v", from, into, err)
			}
		}
	}
}

func (s *Store) migrate(from, into string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var rows []types.Attendance
		if err := tx.Where("user_id = ?", from).Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			r.UserID = into
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&r).Error; err != nil {
				return err
			}
		}
		return tx.Where("user_id = ?", from).Delete(&types.Attendance{}).Error
	})
}
