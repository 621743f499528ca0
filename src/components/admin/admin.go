// Package admin performs the bulk multi-ledger operations: account
// merge, selective and full resets. It is the only writer allowed to
// touch several ledgers in one operation; each ledger is still merged
// in its own transaction, best-effort, with a per-ledger report.
package admin

import (
	"context"
	"errors"
	"log"

	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/components/birthday"
	"github.com/page-village/onpage/src/components/fortune"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Administrator struct {
	db       *gorm.DB
	voice    *voice.Ledger
	birthday *birthday.Store
	fortune  *fortune.Store
	bus      *bus.Bus
}

type Config struct {
	DB       *gorm.DB
	Voice    *voice.Ledger
	Birthday *birthday.Store
	Fortune  *fortune.Store
	Bus      *bus.Bus
}

func New(config Config) (*Administrator, error) {
	if err := data.Init(config.DB); err != nil {
		return nil, err
	}
	return &Administrator{
		db:       config.DB,
		voice:    config.Voice,
		birthday: config.Birthday,
		fortune:  config.Fortune,
		bus:      config.Bus,
	}, nil
}

// MergeReport records which ledgers merged cleanly.
type MergeReport struct {
	Voice    error
	Exp      error
	Balance  error
	Birthday error
	Fortune  error
}

// OK reports whether every ledger merged.
func (r MergeReport) OK() bool {
	return r.Voice == nil && r.Exp == nil && r.Balance == nil &&
		r.Birthday == nil && r.Fortune == nil
}

// Merge folds the from account into the into account: rollups are
// summed, logs reattributed, one-shots united, balances combined. The
// ledgers merge independently in documented order; a failed ledger is
// reported and the rest still run. Finishes by publishing UserIDSwap
// so auxiliary stores (attendance) migrate their own rows.
func (a *Administrator) Merge(ctx context.Context, from, into string) MergeReport {
	var report MergeReport
	report.Voice = a.mergeVoice(from, into)
	report.Exp = a.mergeExp(from, into)
	report.Balance = a.mergeBalance(from, into)
	report.Birthday = a.birthday.Migrate(from, into)
	report.Fortune = a.fortune.Migrate(from, into)

	if a.bus != nil {
		a.bus.Publish(ctx, bus.Event{
			Topic:  bus.TopicUserIDSwap,
			UserID: into,
			Fields: map[string]string{"from": from, "into": into},
		})
	}
	if !report.OK() {
		log.Printf("admin: merge %s -> %s incomplete: %+v", from, into, report)
	}
	return report
}

func (a *Administrator) mergeVoice(from, into string) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		var rows []types.VoiceTime
		if err := tx.Where("user_id = ?", from).Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "date"}, {Name: "user_id"}, {Name: "channel_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"seconds": gorm.Expr("seconds + ?", r.Seconds),
				}),
			}).Create(&types.VoiceTime{
				Date:      r.Date,
				UserID:    into,
				ChannelID: r.ChannelID,
				Seconds:   r.Seconds,
			}).Error
			if err != nil {
				return err
			}
		}
		return tx.Where("user_id = ?", from).Delete(&types.VoiceTime{}).Error
	})
}

func (a *Administrator) mergeExp(from, into string) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		var src types.UserExp
		err := tx.Where("user_id = ?", from).Take(&src).Error
		if err == nil && src.Total > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"total": gorm.Expr("total + ?", src.Total),
				}),
			}).Create(&types.UserExp{UserID: into, Total: src.Total}).Error; err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Where("user_id = ?", from).Delete(&types.UserExp{}).Error; err != nil {
			return err
		}

		if err := tx.Model(&types.QuestLog{}).Where("user_id = ?", from).
			Update("user_id", into).Error; err != nil {
			return err
		}

		// One-shots the target already holds stay; the rest move.
		var shots []types.OneTimeQuest
		if err := tx.Where("user_id = ?", from).Find(&shots).Error; err != nil {
			return err
		}
		for _, s := range shots {
			s.UserID = into
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&s).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", from).Delete(&types.OneTimeQuest{}).Error; err != nil {
			return err
		}

		// Certified levels keep the higher of the two.
		var certs []types.RankCertification
		if err := tx.Where("user_id = ?", from).Find(&certs).Error; err != nil {
			return err
		}
		for _, c := range certs {
			var existing types.RankCertification
			err := tx.Where("user_id = ? AND rank_type = ?", into, c.RankType).Take(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				c.UserID = into
				if err := tx.Create(&c).Error; err != nil {
					return err
				}
			case err != nil:
				return err
			case c.Level > existing.Level:
				if err := tx.Model(&types.RankCertification{}).
					Where("user_id = ? AND rank_type = ?", into, c.RankType).
					Update("level", c.Level).Error; err != nil {
					return err
				}
			}
		}
		return tx.Where("user_id = ?", from).Delete(&types.RankCertification{}).Error
	})
}

func (a *Administrator) mergeBalance(from, into string) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		var src types.Balance
		err := tx.Where("user_id = ?", from).Take(&src).Error
		if err == nil {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"amount": gorm.Expr("amount + ?", src.Amount),
				}),
			}).Create(&types.Balance{UserID: into, Amount: src.Amount}).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", from).Delete(&types.Balance{}).Error; err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Model(&types.Transfer{}).Where("sender = ?", from).
			Update("sender", into).Error; err != nil {
			return err
		}
		return tx.Model(&types.Transfer{}).Where("receiver = ?", from).
			Update("receiver", into).Error
	})
}

// ResetUser clears one user's exp ledger subset.
func (a *Administrator) ResetUser(userID string) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&types.UserExp{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&types.QuestLog{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&types.OneTimeQuest{}).Error
	})
}

// ResetAllUsers clears every exp total, quest log, and one-shot.
// Configuration is untouched.
func (a *Administrator) ResetAllUsers() error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&types.UserExp{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&types.QuestLog{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&types.OneTimeQuest{}).Error
	})
}

// ImportVoiceData bulk-loads voice rollup rows, summing onto any
// existing (date, user, channel) keys. Rows with non-positive seconds
// are skipped. Returns the number of rows applied.
func (a *Administrator) ImportVoiceData(rows []types.VoiceTime) (int, error) {
	applied := 0
	err := a.db.Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			if r.Seconds <= 0 || r.Date == "" || r.UserID == "" || r.ChannelID == "" {
				continue
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "date"}, {Name: "user_id"}, {Name: "channel_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"seconds": gorm.Expr("seconds + ?", r.Seconds),
				}),
			}).Create(&r).Error
			if err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// ResetTrackedChannels clears one source's channel set.
func (a *Administrator) ResetTrackedChannels(guildID, source string) error {
	return a.voice.ResetTrackedChannels(guildID, source)
}

// ResetVoiceData clears the voice rollups.
func (a *Administrator) ResetVoiceData() error {
	return a.voice.ResetData()
}
