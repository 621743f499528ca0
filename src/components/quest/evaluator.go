// Package quest is the central dispatcher of the engagement engine.
// Every tracked event lands here; the evaluator decides which rewards
// apply, enforces the idempotency keys, writes the ledgers, and asks
// the promotion engine to re-check the user.
package quest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/components/attendance"
	"github.com/page-village/onpage/src/components/balance"
	"github.com/page-village/onpage/src/components/chat"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/components/promotion"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/data"
)

// Rejection kinds.
const (
	RejectAlreadyDone  = "already_done"
	RejectUnknownQuest = "unknown_quest"
	RejectBadLevel     = "bad_level"
)

// Result is the evaluator's structured outcome. Exactly one of
// Success, Rejected, Failed describes what happened; the adapter maps
// it to user-facing text.
type Result struct {
	Success        bool
	Rejected       string // rejection kind, empty on success
	ExpGained      int64
	Messages       []string
	QuestCompleted []string
}

func rejected(kind string) Result {
	return Result{Rejected: kind}
}

// Default rewards, overridable per guild via the quest_rewards setting.
var defaultRewards = map[string]int64{
	"attendance":   10,
	"attendance_4": 20,
	"attendance_7": 30,
	"diary":        10,
	"diary_4":      20,
	"diary_7":      30,
	"bbibbi":       5,
	"call":         5,
	"friend":       5,
	"voice_30m":    10,
	"voice_5h":     20,
	"voice_10h":    30,
	"voice_20h":    50,
	"recommend_3":  30,
	"snowflake":    15,
}

const rankCertExp = 20

// Voice milestone thresholds in seconds.
var (
	voiceDaily = struct {
		subtype string
		seconds int64
	}{"voice_30m", 30 * 60}

	voiceWeekly = []struct {
		subtype string
		seconds int64
	}{
		{"voice_5h", 5 * 3600},
		{"voice_10h", 10 * 3600},
		{"voice_20h", 20 * 3600},
	}
)

// Evaluator wires the ledgers together.
type Evaluator struct {
	exp        *exp.Ledger
	voice      *voice.Ledger
	chat       *chat.Ledger
	balance    *balance.Ledger
	attendance *attendance.Store
	settings   *data.Settings
	promotion  *promotion.Engine
	bus        *bus.Bus
}

type Config struct {
	Exp        *exp.Ledger
	Voice      *voice.Ledger
	Chat       *chat.Ledger
	Balance    *balance.Ledger
	Attendance *attendance.Store
	Settings   *data.Settings
	Promotion  *promotion.Engine
	Bus        *bus.Bus
}

func New(config Config) *Evaluator {
	return &Evaluator{
		exp:        config.Exp,
		voice:      config.Voice,
		chat:       config.Chat,
		balance:    config.Balance,
		attendance: config.Attendance,
		settings:   config.Settings,
		promotion:  config.Promotion,
		bus:        config.Bus,
	}
}

func (e *Evaluator) rewardFor(guildID, subtype string) int64 {
	if r, ok := e.settings.QuestRewards(guildID)[subtype]; ok {
		return r
	}
	return defaultRewards[subtype]
}

// grant awards one quest completion and accumulates it into res.
func (e *Evaluator) grant(res *Result, guildID, userID, questType, subtype string) error {
	amount := e.rewardFor(guildID, subtype)
	if err := e.exp.Add(userID, amount, questType, subtype); err != nil {
		return err
	}
	res.Success = true
	res.ExpGained += amount
	res.QuestCompleted = append(res.QuestCompleted, subtype)
	res.Messages = append(res.Messages, fmt.Sprintf("%s +%d", subtype, amount))
	return nil
}

// finish publishes the completion and re-evaluates promotion.
func (e *Evaluator) finish(ctx context.Context, res *Result, guildID, userID string) {
	if !res.Success {
		return
	}
	if e.bus != nil {
		e.bus.Publish(ctx, bus.Event{
			Topic:   bus.TopicQuestCompletion,
			GuildID: guildID,
			UserID:  userID,
			Fields: map[string]string{
				"subtypes": fmt.Sprintf("%v", res.QuestCompleted),
				"exp":      fmt.Sprintf("%d", res.ExpGained),
			},
		})
	}
	if e.promotion != nil {
		if _, err := e.promotion.Evaluate(ctx, guildID, userID); err != nil {
			res.Messages = append(res.Messages, "promotion check failed")
		}
	}
}

// weeklyBonus awards a week-scoped milestone once. The week-scoped
// count on the bonus subtype itself is the idempotency key.
func (e *Evaluator) weeklyBonus(res *Result, guildID, userID, subtype string) error {
	n, err := e.exp.QuestCount(userID, exp.TypeWeekly, subtype, exp.FrameWeek)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return e.grant(res, guildID, userID, exp.TypeWeekly, subtype)
}

// Attendance handles the daily check-in and its weekly milestones.
func (e *Evaluator) Attendance(ctx context.Context, guildID, userID string) (Result, error) {
	var res Result
	fresh, err := e.attendance.Record(guildID, userID)
	if err != nil {
		return res, err
	}
	if !fresh {
		return rejected(RejectAlreadyDone), nil
	}

	if err := e.grant(&res, guildID, userID, exp.TypeDaily, "attendance"); err != nil {
		return res, err
	}

	weekCount, err := e.attendance.WeekCount(guildID, userID)
	if err != nil {
		return res, err
	}
	if weekCount >= 4 {
		if err := e.weeklyBonus(&res, guildID, userID, "attendance_4"); err != nil {
			return res, err
		}
	}
	if weekCount >= 7 {
		if err := e.weeklyBonus(&res, guildID, userID, "attendance_7"); err != nil {
			return res, err
		}
	}

	e.finish(ctx, &res, guildID, userID)
	return res, nil
}

// ChatQuestRule configures one chat-attributed quest channel.
type ChatQuestRule struct {
	Subtype   string `json:"subtype"`
	ChannelID string `json:"channel_id"`
	MinLength int    `json:"min_length"`
}

// SettingChatQuests is the settings key holding []ChatQuestRule.
const SettingChatQuests = "chat_quests"

// scoreMessage converts a message length to chat points.
func scoreMessage(charCount int) int64 {
	switch {
	case charCount >= 100:
		return 3
	case charCount >= 20:
		return 2
	default:
		return 1
	}
}

// ChatMessage scores and records a message, then runs any chat quest
// configured for its channel. Duplicate message-ids are no-ops.
func (e *Evaluator) ChatMessage(ctx context.Context, guildID, userID, channelID,
	messageID string, charCount int, createdAt time.Time) (Result, error) {
	var res Result

	inserted, err := e.chat.AddRecord(userID, channelID, messageID,
		charCount, scoreMessage(charCount), createdAt)
	if err != nil {
		return res, err
	}
	if !inserted {
		// Replay of an already-scored message.
		return rejected(RejectAlreadyDone), nil
	}

	var rules []ChatQuestRule
	if _, err := e.settings.GetJSON(guildID, SettingChatQuests, &rules); err != nil {
		return res, err
	}
	for _, rule := range rules {
		if rule.ChannelID != channelID || charCount < rule.MinLength {
			continue
		}
		n, err := e.exp.QuestCount(userID, exp.TypeDaily, rule.Subtype, exp.FrameDay)
		if err != nil {
			return res, err
		}
		if n > 0 {
			continue
		}
		if err := e.grant(&res, guildID, userID, exp.TypeDaily, rule.Subtype); err != nil {
			return res, err
		}
		if rule.Subtype == "diary" {
			done, err := e.exp.QuestCount(userID, exp.TypeDaily, "diary", exp.FrameWeek)
			if err != nil {
				return res, err
			}
			if done >= 4 {
				if err := e.weeklyBonus(&res, guildID, userID, "diary_4"); err != nil {
					return res, err
				}
			}
			if done >= 7 {
				if err := e.weeklyBonus(&res, guildID, userID, "diary_7"); err != nil {
					return res, err
				}
			}
		}
	}

	e.finish(ctx, &res, guildID, userID)
	if res.Success {
		return res, nil
	}
	// The record insert alone is a success without quest completions.
	return Result{Success: true}, nil
}

// VoiceTick checks voice milestones after a flush. The voice ledger's
// window sums are the source of truth.
func (e *Evaluator) VoiceTick(ctx context.Context, guildID, userID string) (Result, error) {
	var res Result
	now := calendar.Now()

	daySeconds, err := e.voice.UserSeconds(ctx, guildID, userID, calendar.PeriodDaily, now)
	if err != nil {
		return res, err
	}
	if daySeconds >= voiceDaily.seconds {
		n, err := e.exp.QuestCount(userID, exp.TypeDaily, voiceDaily.subtype, exp.FrameDay)
		if err != nil {
			return res, err
		}
		if n == 0 {
			if err := e.grant(&res, guildID, userID, exp.TypeDaily, voiceDaily.subtype); err != nil {
				return res, err
			}
		}
	}

	weekSeconds, err := e.voice.UserSeconds(ctx, guildID, userID, calendar.PeriodWeekly, now)
	if err != nil {
		return res, err
	}
	for _, m := range voiceWeekly {
		if weekSeconds < m.seconds {
			continue
		}
		if err := e.weeklyBonus(&res, guildID, userID, m.subtype); err != nil {
			return res, err
		}
	}

	e.finish(ctx, &res, guildID, userID)
	return res, nil
}

// Certify applies an admin-issued certification: the condition's
// currency reward times count, and for "recommend" the weekly counter
// toward the recommend_3 bonus.
func (e *Evaluator) Certify(ctx context.Context, guildID, userID, condition string, count int) (Result, error) {
	var res Result
	if count <= 0 {
		count = 1
	}

	reward, err := e.balance.AuthReward(guildID, condition)
	if errors.Is(err, balance.ErrUnknownCondition) {
		return rejected(RejectUnknownQuest), nil
	}
	if err != nil {
		return res, err
	}
	if err := e.balance.Give(userID, reward*int64(count)); err != nil {
		return res, err
	}
	res.Success = true
	res.Messages = append(res.Messages,
		fmt.Sprintf("%s x%d: +%d", condition, count, reward*int64(count)))

	if condition == "recommend" {
		// Each certification logs a zero-exp manual row; three in a
		// week unlock the bonus.
		for i := 0; i < count; i++ {
			if err := e.exp.Add(userID, 0, exp.TypeManual, "recommend"); err != nil {
				return res, err
			}
		}
		n, err := e.exp.QuestCount(userID, exp.TypeManual, "recommend", exp.FrameWeek)
		if err != nil {
			return res, err
		}
		if n >= 3 {
			if err := e.weeklyBonus(&res, guildID, userID, "recommend_3"); err != nil {
				return res, err
			}
		}
	}

	e.finish(ctx, &res, guildID, userID)
	return res, nil
}

// CertifyRank records an admin rank certification. Every multiple of 5
// newly crossed awards a one-shot grant; the stored level then moves
// up to newLevel. Re-certifying the same level is a no-op.
func (e *Evaluator) CertifyRank(ctx context.Context, guildID, userID, kind string, newLevel int) (Result, error) {
	var res Result
	if kind != "voice" && kind != "chat" {
		return rejected(RejectUnknownQuest), nil
	}
	if newLevel <= 0 {
		return rejected(RejectBadLevel), nil
	}

	prev, err := e.exp.CertifiedLevel(userID, kind)
	if err != nil {
		return res, err
	}
	if newLevel <= prev {
		return rejected(RejectAlreadyDone), nil
	}

	for level := (prev/5 + 1) * 5; level <= newLevel; level += 5 {
		key := fmt.Sprintf("rank_%s_%d", kind, level)
		fresh, err := e.exp.CompleteOneShot(userID, key)
		if err != nil {
			return res, err
		}
		if !fresh {
			continue
		}
		if err := e.exp.Add(userID, rankCertExp, exp.TypeOneTime, key); err != nil {
			return res, err
		}
		res.Success = true
		res.ExpGained += rankCertExp
		res.QuestCompleted = append(res.QuestCompleted, key)
	}

	if err := e.exp.SetCertifiedLevel(userID, kind, newLevel); err != nil {
		return res, err
	}
	res.Success = true
	res.Messages = append(res.Messages, fmt.Sprintf("rank_%s certified at %d", kind, newLevel))

	e.finish(ctx, &res, guildID, userID)
	return res, nil
}

// Complete is the admin override: grant a subtype directly, still
// bounded to once per civil day.
func (e *Evaluator) Complete(ctx context.Context, guildID, userID, subtype string) (Result, error) {
	var res Result
	n, err := e.exp.QuestCount(userID, exp.TypeDaily, subtype, exp.FrameDay)
	if err != nil {
		return res, err
	}
	if n > 0 {
		return rejected(RejectAlreadyDone), nil
	}
	if err := e.grant(&res, guildID, userID, exp.TypeDaily, subtype); err != nil {
		return res, err
	}
	e.finish(ctx, &res, guildID, userID)
	return res, nil
}
