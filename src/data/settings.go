package data

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting names. Structured values are stored as JSON.
const (
	SettingCurrencySymbol = "currency_symbol"
	SettingQuestRewards   = "quest_rewards"
	SettingRoleMap        = "role_map"
	SettingTierThresholds = "tier_thresholds"
	SettingSendTime       = "send_time"
	SettingPeriodStart    = "period.start_date"
	SettingPeriodEnd      = "period.end_date"
	SettingSnowflakeAward = "snowflake_award"
)

// Settings reads and writes per-guild configuration rows with a small
// read-through cache. The store stays authoritative; Set invalidates.
type Settings struct {
	db    *gorm.DB
	mu    sync.RWMutex
	cache map[string]string
}

func NewSettings(db *gorm.DB) *Settings {
	return &Settings{db: db, cache: make(map[string]string)}
}

func cacheKey(guildID, name string) string { return guildID + "|" + name }

// Get returns the raw value for (guild, name), or def when unset.
func (s *Settings) Get(guildID, name, def string) string {
	key := cacheKey(guildID, name)
	s.mu.RLock()
	v, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	var row types.GuildSetting
	err := s.db.Where("guild_id = ? AND name = ?", guildID, name).Take(&row).Error
	if err != nil {
		return def
	}
	s.mu.Lock()
	s.cache[key] = row.Value
	s.mu.Unlock()
	return row.Value
}

// Set upserts (guild, name) = value.
func (s *Settings) Set(guildID, name, value string) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&types.GuildSetting{GuildID: guildID, Name: name, Value: value}).Error
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[cacheKey(guildID, name)] = value
	s.mu.Unlock()
	return nil
}

// GetJSON unmarshals a structured setting into out. Returns false when
// the setting is unset.
func (s *Settings) GetJSON(guildID, name string, out interface{}) (bool, error) {
	raw := s.Get(guildID, name, "")
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("setting %s: %w", name, err)
	}
	return true, nil
}

// SetJSON marshals and stores a structured setting.
func (s *Settings) SetJSON(guildID, name string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(guildID, name, string(raw))
}

// CurrencySymbol returns the display glyph for amounts.
func (s *Settings) CurrencySymbol(guildID string) string {
	return s.Get(guildID, SettingCurrencySymbol, "온")
}

// QuestRewards returns per-quest reward amounts keyed by subtype.
func (s *Settings) QuestRewards(guildID string) map[string]int64 {
	rewards := make(map[string]int64)
	if ok, err := s.GetJSON(guildID, SettingQuestRewards, &rewards); err != nil || !ok {
		return map[string]int64{}
	}
	return rewards
}

// RoleMap returns the Discord role id per tier key.
func (s *Settings) RoleMap(guildID string) map[string]string {
	roles := make(map[string]string)
	if ok, err := s.GetJSON(guildID, SettingRoleMap, &roles); err != nil || !ok {
		return map[string]string{}
	}
	return roles
}

// TierThreshold is one tier cutoff. Thresholds are strictly increasing
// in tier order.
type TierThreshold struct {
	Key       string `json:"key"`
	Threshold int64  `json:"threshold"`
}

// TierThresholds returns the ordered tier list, lowest first.
func (s *Settings) TierThresholds(guildID string) []TierThreshold {
	var tiers []TierThreshold
	if ok, err := s.GetJSON(guildID, SettingTierThresholds, &tiers); err != nil || !ok {
		return nil
	}
	return tiers
}

// SendTime parses the configured HH:MM broadcast time.
func (s *Settings) SendTime(guildID string) (hour, minute int, ok bool) {
	raw := s.Get(guildID, SettingSendTime, "")
	if raw == "" {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(raw, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// EventPeriod returns the configured event window as civil dates
// (YYYY-MM-DD, inclusive). ok is false unless both bounds are set.
func (s *Settings) EventPeriod(guildID string) (start, end string, ok bool) {
	start = s.Get(guildID, SettingPeriodStart, "")
	end = s.Get(guildID, SettingPeriodEnd, "")
	return start, end, start != "" && end != ""
}
