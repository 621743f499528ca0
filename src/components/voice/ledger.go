// Package voice accounts voice-channel presence. Seconds accumulate
// per (civil day, user, channel); aggregation expands tracked
// categories to their live children plus recorded deleted descendants.
package voice

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tracked-channel sources. SourceVoice is the set this ledger
// accounts; SourceChat scopes message scoring and lives in the same
// table.
const (
	SourceVoice = "voice"
	SourceChat  = "chat"
)

const expansionTTL = 5 * time.Minute

// ChannelKind classifies a live channel.
type ChannelKind int

const (
	KindVoice ChannelKind = iota
	KindStage
	KindText
	KindCategory
)

// ChannelResolver answers live-channel questions. The discord connector
// implements it; tests use a fixture.
type ChannelResolver interface {
	// Resolve reports a channel's kind. ok is false when the channel
	// no longer exists.
	Resolve(channelID string) (ChannelKind, bool)
	// CategoryChildren lists the live voice/stage children of a category.
	CategoryChildren(categoryID string) []string
}

// Ledger is the voice-time accounting component.
type Ledger struct {
	db       *gorm.DB
	resolver ChannelResolver
	rdb      *redis.Client
}

// New creates the ledger. rdb may be nil; it only backs the advisory
// expansion cache.
func New(db *gorm.DB, resolver ChannelResolver, rdb *redis.Client) (*Ledger, error) {
	if err := data.Init(db); err != nil {
		return nil, err
	}
	return &Ledger{db: db, resolver: resolver, rdb: rdb}, nil
}

// AddVoiceTime accumulates seconds onto today's (user, channel) row.
// Today is taken at flush time, so an interval spanning midnight lands
// on the day the caller flushed it.
func (l *Ledger) AddVoiceTime(userID, channelID string, seconds int64) error {
	if seconds <= 0 {
		return fmt.Errorf("seconds must be positive, got %d", seconds)
	}
	return l.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "user_id"}, {Name: "channel_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"seconds": gorm.Expr("seconds + ?", seconds),
		}),
	}).Create(&types.VoiceTime{
		Date:      calendar.Today(),
		UserID:    userID,
		ChannelID: channelID,
		Seconds:   seconds,
	}).Error
}

// RecordChannelDeleted remembers a deleted channel's parent category so
// its history keeps aggregating under that category.
func (l *Ledger) RecordChannelDeleted(channelID, categoryID string) error {
	if categoryID == "" {
		return nil
	}
	return l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"category_id"}),
	}).Create(&types.DeletedChannel{
		ChannelID:  channelID,
		CategoryID: categoryID,
		DeletedAt:  calendar.Now(),
	}).Error
}

// TrackedChannels returns the configured channel/category ids for a source.
func (l *Ledger) TrackedChannels(guildID, source string) ([]string, error) {
	var rows []types.TrackedChannel
	if err := l.db.Where("guild_id = ? AND source = ?", guildID, source).Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ChannelID
	}
	sort.Strings(ids)
	return ids, nil
}

// AddTrackedChannel registers a channel or category for a source.
func (l *Ledger) AddTrackedChannel(guildID, source, channelID string) error {
	err := l.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&types.TrackedChannel{
		GuildID: guildID, Source: source, ChannelID: channelID,
	}).Error
	if err == nil {
		l.invalidateExpansion(guildID, source)
	}
	return err
}

// RemoveTrackedChannel deregisters a channel from a source.
func (l *Ledger) RemoveTrackedChannel(guildID, source, channelID string) error {
	err := l.db.Where("guild_id = ? AND source = ? AND channel_id = ?",
		guildID, source, channelID).Delete(&types.TrackedChannel{}).Error
	if err == nil {
		l.invalidateExpansion(guildID, source)
	}
	return err
}

// ResetTrackedChannels clears a source's channel set. Configuration
// elsewhere is untouched.
func (l *Ledger) ResetTrackedChannels(guildID, source string) error {
	err := l.db.Where("guild_id = ? AND source = ?", guildID, source).
		Delete(&types.TrackedChannel{}).Error
	if err == nil {
		l.invalidateExpansion(guildID, source)
	}
	return err
}

func (l *Ledger) invalidateExpansion(guildID, source string) {
	if l.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = data.CacheChannelSet(ctx, l.rdb, guildID, source, nil, 0)
}

// ExpandChannels resolves a source's tracked set to concrete channel
// ids: live voice/stage channels kept as-is, live categories expanded
// to their children, unresolvable ids treated as deleted categories.
// Deleted channels recorded under any tracked category are included.
func (l *Ledger) ExpandChannels(ctx context.Context, guildID, source string) ([]string, error) {
	if l.rdb != nil {
		if cached, ok := data.CachedChannelSet(ctx, l.rdb, guildID, source); ok {
			return cached, nil
		}
	}

	tracked, err := l.TrackedChannels(guildID, source)
	if err != nil {
		return nil, err
	}

	leaves := make(map[string]struct{})
	categories := make(map[string]struct{})
	for _, id := range tracked {
		kind, ok := l.resolver.Resolve(id)
		switch {
		case ok && (kind == KindVoice || kind == KindStage):
			leaves[id] = struct{}{}
		case ok && kind == KindCategory:
			categories[id] = struct{}{}
			for _, child := range l.resolver.CategoryChildren(id) {
				leaves[child] = struct{}{}
			}
		case !ok:
			// Unresolvable: assume a deleted category so its recorded
			// descendants still aggregate.
			categories[id] = struct{}{}
		}
	}

	if len(categories) > 0 {
		ids := make([]string, 0, len(categories))
		for id := range categories {
			ids = append(ids, id)
		}
		var deleted []types.DeletedChannel
		if err := l.db.Where("category_id IN ?", ids).Find(&deleted).Error; err != nil {
			return nil, err
		}
		for _, d := range deleted {
			leaves[d.ChannelID] = struct{}{}
		}
	}

	out := make([]string, 0, len(leaves))
	for id := range leaves {
		out = append(out, id)
	}
	sort.Strings(out)

	if l.rdb != nil {
		_ = data.CacheChannelSet(ctx, l.rdb, guildID, source, out, expansionTTL)
	}
	return out, nil
}

func (l *Ledger) windowQuery(period calendar.Period, base time.Time) *gorm.DB {
	q := l.db.Model(&types.VoiceTime{})
	if period == calendar.PeriodAll {
		return q
	}
	start, end := calendar.Window(period, base)
	return q.Where("date >= ? AND date < ?", calendar.DateString(start), calendar.DateString(end))
}

// UserTimes returns channel→seconds for one user inside the window.
// filter semantics: nil means no filter; an empty filter matches nothing.
func (l *Ledger) UserTimes(userID string, period calendar.Period, base time.Time,
	filter []string) (map[string]int64, error) {
	if filter != nil && len(filter) == 0 {
		return map[string]int64{}, nil
	}
	q := l.windowQuery(period, base).Where("user_id = ?", userID)
	if filter != nil {
		q = q.Where("channel_id IN ?", filter)
	}
	var rows []types.VoiceTime
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, r := range rows {
		out[r.ChannelID] += r.Seconds
	}
	return out, nil
}

// AllUsersTimes returns user→channel→seconds inside the window.
func (l *Ledger) AllUsersTimes(period calendar.Period, base time.Time,
	filter []string) (map[string]map[string]int64, error) {
	if filter != nil && len(filter) == 0 {
		return map[string]map[string]int64{}, nil
	}
	q := l.windowQuery(period, base)
	if filter != nil {
		q = q.Where("channel_id IN ?", filter)
	}
	var rows []types.VoiceTime
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]map[string]int64)
	for _, r := range rows {
		if out[r.UserID] == nil {
			out[r.UserID] = make(map[string]int64)
		}
		out[r.UserID][r.ChannelID] += r.Seconds
	}
	return out, nil
}

// Rank is a user's leaderboard position for a window.
type Rank struct {
	Rank       int
	TotalUsers int
	Seconds    int64
	Start, End time.Time
}

// UserRank computes the 1-based rank of userID by total seconds.
func (l *Ledger) UserRank(userID string, period calendar.Period, base time.Time,
	filter []string) (Rank, error) {
	all, err := l.AllUsersTimes(period, base, filter)
	if err != nil {
		return Rank{}, err
	}
	totals := make([]int64, 0, len(all))
	var mine int64
	for uid, chans := range all {
		var sum int64
		for _, s := range chans {
			sum += s
		}
		totals = append(totals, sum)
		if uid == userID {
			mine = sum
		}
	}
	rank := 1
	for _, t := range totals {
		if t > mine {
			rank++
		}
	}
	start, end := calendar.Window(period, base)
	return Rank{Rank: rank, TotalUsers: len(totals), Seconds: mine, Start: start, End: end}, nil
}

// UserSeconds sums a user's seconds over the guild's expanded tracked
// set for the window. This is the source of truth for voice milestones.
func (l *Ledger) UserSeconds(ctx context.Context, guildID, userID string,
	period calendar.Period, base time.Time) (int64, error) {
	expanded, err := l.ExpandChannels(ctx, guildID, SourceVoice)
	if err != nil {
		return 0, err
	}
	times, err := l.UserTimes(userID, period, base, expanded)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, s := range times {
		sum += s
	}
	return sum, nil
}

// ResetData deletes every voice rollup row. Tracked channels and the
// deleted-channel map are untouched.
func (l *Ledger) ResetData() error {
	return l.db.Where("1 = 1").Delete(&types.VoiceTime{}).Error
}
