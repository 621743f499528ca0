// Package birthday keeps user birthday records. A record may omit the
// year; edits after registration are capped at two.
package birthday

import (
	"errors"
	"fmt"

	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
)

const maxEdits = 2

var (
	ErrEditLimit = errors.New("birthday edit limit reached")
	ErrBadDate   = errors.New("invalid birthday date")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if err := data.Init(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get returns the user's record, or nil when unregistered.
func (s *Store) Get(userID string) (*types.Birthday, error) {
	var row types.Birthday
	err := s.db.Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Set registers or edits the user's birthday. year may be zero.
func (s *Store) Set(userID string, year, month, day int) error {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return ErrBadDate
	}
	if year != 0 && (year < 1900 || year > calendar.Now().Year()) {
		return fmt.Errorf("%w: year %d", ErrBadDate, year)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var row types.Birthday
		err := tx.Where("user_id = ?", userID).Take(&row).Error
		now := calendar.Now()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&types.Birthday{
				UserID:       userID,
				Year:         year,
				Month:        month,
				Day:          day,
				RegisteredAt: now,
				UpdatedAt:    now,
			}).Error
		}
		if err != nil {
			return err
		}
		if row.EditCount >= maxEdits {
			return ErrEditLimit
		}
		return tx.Model(&types.Birthday{}).Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"year":       year,
				"month":      month,
				"day":        day,
				"edit_count": row.EditCount + 1,
				"updated_at": now,
			}).Error
	})
}

// TodaysBirthdays lists users whose birthday is today's civil date.
func (s *Store) TodaysBirthdays() ([]types.Birthday, error) {
	now := calendar.Now()
	var rows []types.Birthday
	err := s.db.Where("month = ? AND day = ?", int(now.Month()), now.Day()).Find(&rows).Error
	return rows, err
}

// Migrate moves the record from one user to another unless the target
// already has one; the source row is dropped either way.
func (s *Store) Migrate(from, into string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var target int64
		if err := tx.Model(&types.Birthday{}).Where("user_id = ?", into).Count(&target).Error; err != nil {
			return err
		}
		if target == 0 {
			if err := tx.Model(&types.Birthday{}).Where("user_id = ?", from).
				Update("user_id", into).Error; err != nil {
				return err
			}
			return nil
		}
		return tx.Where("user_id = ?", from).Delete(&types.Birthday{}).Error
	})
}
