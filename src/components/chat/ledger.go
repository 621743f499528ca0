// Package chat records scored messages. A message is scored exactly
// once: the unique message-id makes replays no-ops, which keeps
// at-least-once delivery from the platform safe.
package chat

import (
	"time"

	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
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

// AddRecord inserts the message record unless the message-id is
// already present. Returns whether a row was inserted.
func (l *Ledger) AddRecord(userID, channelID, messageID string, charCount int,
	points int64, createdAt time.Time) (bool, error) {
	res := l.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&types.ChatMessage{
		MessageID: messageID,
		UserID:    userID,
		ChannelID: channelID,
		CharCount: charCount,
		Points:    points,
		CreatedAt: createdAt,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Stats is an aggregate over message records.
type Stats struct {
	Count  int64
	Points int64
}

// UserStats returns message count and point sum for [start, end).
func (l *Ledger) UserStats(userID string, start, end time.Time) (Stats, error) {
	var s Stats
	err := l.db.Model(&types.ChatMessage{}).
		Select("COUNT(*) AS count, COALESCE(SUM(points), 0) AS points").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start, end).
		Scan(&s).Error
	return s, err
}

// ChannelStats is a per-channel aggregate for one user.
type ChannelStats struct {
	ChannelID string
	Count     int64
	Points    int64
}

// UserChannelStats breaks a user's window down by channel, ordered by
// points descending.
func (l *Ledger) UserChannelStats(userID string, start, end time.Time) ([]ChannelStats, error) {
	var out []ChannelStats
	err := l.db.Model(&types.ChatMessage{}).
		Select("channel_id, COUNT(*) AS count, COALESCE(SUM(points), 0) AS points").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start, end).
		Group("channel_id").
		Order("points DESC").
		Scan(&out).Error
	return out, err
}

// UserTotal is one row of the chat leaderboard.
type UserTotal struct {
	UserID string
	Count  int64
	Points int64
}

// AllUsersStats aggregates per user for ranking. userIDs narrows the
// result when non-nil.
func (l *Ledger) AllUsersStats(start, end time.Time, userIDs []string) ([]UserTotal, error) {
	q := l.db.Model(&types.ChatMessage{}).
		Select("user_id, COUNT(*) AS count, COALESCE(SUM(points), 0) AS points").
		Where("created_at >= ? AND created_at < ?", start, end)
	if userIDs != nil {
		q = q.Where("user_id IN ?", userIDs)
	}
	var out []UserTotal
	err := q.Group("user_id").Order("points DESC").Scan(&out).Error
	return out, err
}
