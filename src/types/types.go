package types

import "time"

// Civil dates are stored as YYYY-MM-DD strings so range scans stay
// lexicographic and identical across the sqlite and mysql backends.

// VoiceTime accumulates seconds per (civil day, user, channel).
type VoiceTime struct {
	Date      string `gorm:"primaryKey;size:10"`
	UserID    string `gorm:"primaryKey;size:64"`
	ChannelID string `gorm:"primaryKey;size:64"`
	Seconds   int64  `gorm:"not null;default:0"`
}

// DeletedChannel remembers the parent category of a channel the bot saw
// deleted, so historical rollups under that category stay reachable.
type DeletedChannel struct {
	ChannelID  string `gorm:"primaryKey;size:64"`
	CategoryID string `gorm:"index;size:64;not null"`
	DeletedAt  time.Time
}

// TrackedChannel is one accounted channel or category for a source
// (voice, chat, herb, ...).
type TrackedChannel struct {
	GuildID   string `gorm:"primaryKey;size:64"`
	Source    string `gorm:"primaryKey;size:32"`
	ChannelID string `gorm:"primaryKey;size:64"`
}

// ChatMessage is the insert-once record of a scored message.
type ChatMessage struct {
	ID        uint64 `gorm:"primaryKey"`
	MessageID string `gorm:"uniqueIndex;size:64;not null"`
	UserID    string `gorm:"index:idx_chat_user_time;size:64;not null"`
	ChannelID string `gorm:"index:idx_chat_channel_time;size:64;not null"`
	CharCount int    `gorm:"not null"`
	Points    int64  `gorm:"not null"`
	CreatedAt time.Time `gorm:"index:idx_chat_user_time;index:idx_chat_channel_time"`
}

// Balance holds a user's currency amount.
type Balance struct {
	UserID string `gorm:"primaryKey;size:64"`
	Amount int64  `gorm:"not null;default:0"`
}

// Transfer journals one completed currency transfer.
type Transfer struct {
	ID        uint64 `gorm:"primaryKey"`
	Sender    string `gorm:"index;size:64;not null"`
	Receiver  string `gorm:"index;size:64;not null"`
	Amount    int64  `gorm:"not null"`
	Fee       int64  `gorm:"not null;default:0"`
	CreatedAt time.Time
}

// FeeTier maps a minimum transfer amount to its fee. Rows are kept
// sorted by MinAmount ascending per guild.
type FeeTier struct {
	GuildID   string `gorm:"primaryKey;size:64"`
	MinAmount int64  `gorm:"primaryKey"`
	Fee       int64  `gorm:"not null"`
}

// AuthItem is a named admin-issued certification and its reward.
type AuthItem struct {
	GuildID   string `gorm:"primaryKey;size:64"`
	Condition string `gorm:"primaryKey;size:64"`
	Reward    int64  `gorm:"not null"`
}

// AuthRole lists roles permitted to issue certifications.
type AuthRole struct {
	GuildID string `gorm:"primaryKey;size:64"`
	RoleID  string `gorm:"primaryKey;size:64"`
}

// AllowedChannel restricts a feature's commands to a channel set.
// An empty set for a feature means all channels.
type AllowedChannel struct {
	GuildID   string `gorm:"primaryKey;size:64"`
	Feature   string `gorm:"primaryKey;size:32"`
	ChannelID string `gorm:"primaryKey;size:64"`
}

// TransferLimit overrides the per-user daily transfer counts.
type TransferLimit struct {
	GuildID      string `gorm:"primaryKey;size:64"`
	DailySend    int    `gorm:"not null;default:3"`
	DailyReceive int    `gorm:"not null;default:5"`
}

// UserExp is a user's experience total and current tier.
type UserExp struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Total     int64  `gorm:"not null;default:0"`
	Tier      string `gorm:"size:32"`
	UpdatedAt time.Time
}

// QuestLog is the append-only record of every exp grant that came from
// a quest. WeekStart stamps the Monday of the completion week.
type QuestLog struct {
	ID          uint64 `gorm:"primaryKey"`
	UserID      string `gorm:"index:idx_quest_user_week;size:64;not null"`
	Type        string `gorm:"size:16;not null"` // daily|weekly|one_time|manual
	Subtype     string `gorm:"size:64;not null"`
	ExpGained   int64  `gorm:"not null"`
	CompletedAt time.Time
	WeekStart   string `gorm:"index:idx_quest_user_week;size:10;not null"`
}

// OneTimeQuest is a write-once completion marker.
type OneTimeQuest struct {
	UserID    string `gorm:"primaryKey;size:64"`
	QuestName string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

// RankCertification stores the highest admin-certified level per kind.
type RankCertification struct {
	UserID      string `gorm:"primaryKey;size:64"`
	RankType    string `gorm:"primaryKey;size:16"` // voice|chat
	Level       int    `gorm:"not null"`
	CertifiedAt time.Time
}

// Birthday is a user's registered birthday. Year may be zero when the
// user chose not to disclose it. Edits are capped at two.
type Birthday struct {
	UserID       string `gorm:"primaryKey;size:64"`
	Year         int
	Month        int `gorm:"not null"`
	Day          int `gorm:"not null"`
	EditCount    int `gorm:"not null;default:0"`
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// FortuneTarget throttles the fortune feature per (guild, user).
type FortuneTarget struct {
	GuildID       string `gorm:"primaryKey;size:64"`
	UserID        string `gorm:"primaryKey;size:64"`
	RemainingDays int    `gorm:"not null;default:0"`
	LastUsedDate  string `gorm:"size:10"`
}

// Attendance records one check-in per (guild, user, civil day).
type Attendance struct {
	GuildID   string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:64"`
	Date      string `gorm:"primaryKey;size:10"`
	CreatedAt time.Time
}

// GuildSetting is one namespaced typed configuration value. Value holds
// JSON for structured settings and a bare string otherwise.
type GuildSetting struct {
	GuildID string `gorm:"primaryKey;size:64"`
	Name    string `gorm:"primaryKey;size:64"`
	Value   string `gorm:"type:text;not null"`
}

// ScheduledTask persists a one-shot future task so restarts can
// reschedule fire times that are still ahead.
type ScheduledTask struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"index;size:64;not null"`
	RunAt     time.Time
	Payload   string `gorm:"type:text"`
	Done      bool   `gorm:"default:false"`
	CreatedAt time.Time
}

// SnowflakeSpawn is one spawned snowflake and, once claimed, its winner.
type SnowflakeSpawn struct {
	ID        string `gorm:"primaryKey;size:36"`
	GuildID   string `gorm:"index;size:64;not null"`
	SpawnedAt time.Time
	ClaimedBy string `gorm:"size:64"`
	ClaimedAt *time.Time
}

// All lists every model for automigration.
func All() []interface{} {
	return []interface{}{
		&VoiceTime{}, &DeletedChannel{}, &TrackedChannel{},
		&ChatMessage{},
		&Balance{}, &Transfer{}, &FeeTier{}, &AuthItem{}, &AuthRole{},
		&AllowedChannel{}, &TransferLimit{},
		&UserExp{}, &QuestLog{}, &OneTimeQuest{}, &RankCertification{},
		&Birthday{}, &FortuneTarget{}, &Attendance{},
		&GuildSetting{}, &ScheduledTask{}, &SnowflakeSpawn{},
	}
}
