package data

import (
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllowChannel adds a channel to a feature's allowlist.
func AllowChannel(db *gorm.DB, guildID, feature, channelID string) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&types.AllowedChannel{
		GuildID: guildID, Feature: feature, ChannelID: channelID,
	}).Error
}

// DisallowChannel removes a channel from a feature's allowlist.
func DisallowChannel(db *gorm.DB, guildID, feature, channelID string) error {
	return db.Where("guild_id = ? AND feature = ? AND channel_id = ?",
		guildID, feature, channelID).Delete(&types.AllowedChannel{}).Error
}

// AllowedChannels lists a feature's allowlist.
func AllowedChannels(db *gorm.DB, guildID, feature string) ([]string, error) {
	var rows []types.AllowedChannel
	if err := db.Where("guild_id = ? AND feature = ?", guildID, feature).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ChannelID
	}
	return out, nil
}

// ChannelAllowed reports whether a feature accepts commands from the
// channel. An empty allowlist means every channel is accepted.
func ChannelAllowed(db *gorm.DB, guildID, feature, channelID string) (bool, error) {
	var total int64
	if err := db.Model(&types.AllowedChannel{}).
		Where("guild_id = ? AND feature = ?", guildID, feature).
		Count(&total).Error; err != nil {
		return false, err
	}
	if total == 0 {
		return true, nil
	}
	var match int64
	if err := db.Model(&types.AllowedChannel{}).
		Where("guild_id = ? AND feature = ? AND channel_id = ?", guildID, feature, channelID).
		Count(&match).Error; err != nil {
		return false, err
	}
	return match > 0, nil
}
