package balance

import (
	"errors"

	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownCondition is returned when a certification name has no
// configured reward.
var ErrUnknownCondition = errors.New("unknown auth condition")

// SetAuthItem upserts a named certification and its reward amount.
func (l *Ledger) SetAuthItem(guildID, condition string, reward int64) error {
	return l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "condition"}},
		DoUpdates: clause.AssignmentColumns([]string{"reward"}),
	}).Create(&types.AuthItem{GuildID: guildID, Condition: condition, Reward: reward}).Error
}

// AuthReward resolves a condition name to its reward.
func (l *Ledger) AuthReward(guildID, condition string) (int64, error) {
	var row types.AuthItem
	err := l.db.Where("guild_id = ? AND condition = ?", guildID, condition).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUnknownCondition
	}
	if err != nil {
		return 0, err
	}
	return row.Reward, nil
}

// AuthItems lists the guild's certifications.
func (l *Ledger) AuthItems(guildID string) ([]types.AuthItem, error) {
	var rows []types.AuthItem
	err := l.db.Where("guild_id = ?", guildID).Order("condition ASC").Find(&rows).Error
	return rows, err
}

// AddAuthRole permits a role to issue certifications.
func (l *Ledger) AddAuthRole(guildID, roleID string) error {
	return l.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&types.AuthRole{GuildID: guildID, RoleID: roleID}).Error
}

// RemoveAuthRole revokes a role's certification permission.
func (l *Ledger) RemoveAuthRole(guildID, roleID string) error {
	return l.db.Where("guild_id = ? AND role_id = ?", guildID, roleID).
		Delete(&types.AuthRole{}).Error
}

// HasAuthRole reports whether any of the member's roles may certify.
func (l *Ledger) HasAuthRole(guildID string, roleIDs []string) (bool, error) {
	if len(roleIDs) == 0 {
		return false, nil
	}
	var n int64
	err := l.db.Model(&types.AuthRole{}).
		Where("guild_id = ? AND role_id IN ?", guildID, roleIDs).
		Count(&n).Error
	return n > 0, err
}
