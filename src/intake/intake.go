package intake

import (
	"context"
	"sync"
	"time"

	"github.com/page-village/onpage/src/components/quest"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/data"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Messages below the scoring knee share an advisory cooldown, so a
// burst of one-liners earns at most one score per window.
const (
	shortMessageLen      = 20
	shortMessageCooldown = 30 * time.Second
)

// Event is a platform event normalized to opaque identifiers. The
// connector fills it from whatever its transport delivers.
type Event struct {
	GuildID   string
	UserID    string
	ChannelID string
	MessageID string
	Content   string
	Bot       bool
	At        time.Time
}

// Gate serializes work per user id. Work for different users runs in
// parallel; two events for the same user never overlap, which is what
// keeps milestone checks from double-awarding.
type Gate struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewGate() *Gate {
	return &Gate{locks: make(map[string]*sync.Mutex)}
}

func (g *Gate) lock(userID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[userID] = l
	}
	return l
}

// Do runs fn holding the user's lock.
func (g *Gate) Do(userID string, fn func() error) error {
	l := g.lock(userID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

type Config struct {
	DB    *gorm.DB
	Quest *quest.Evaluator
	Voice *voice.Ledger
	// Redis may be nil; it only backs the short-message cooldown.
	Redis *redis.Client
}

// Intake adapts normalized events into evaluator calls, dropping bot
// traffic and commands outside a feature's channel allowlist.
type Intake struct {
	config Config
	gate   *Gate
}

func New(config Config) *Intake {
	return &Intake{config: config, gate: NewGate()}
}

// Gate exposes the per-user serializer for callers that run core work
// outside the normalized event paths (admin commands, scheduled jobs).
func (i *Intake) Gate() *Gate {
	return i.gate
}

// Message scores a chat message and evaluates chat-attributed quests.
// Bot messages are ignored, as are channels outside the chat tracked
// set when one is configured.
func (i *Intake) Message(ctx context.Context, ev Event) (quest.Result, error) {
	if ev.Bot || ev.UserID == "" {
		return quest.Result{}, nil
	}
	ok, err := i.chatTracked(ev.GuildID, ev.ChannelID)
	if err != nil {
		return quest.Result{}, err
	}
	if !ok {
		return quest.Result{}, nil
	}
	chars := len([]rune(ev.Content))
	short := chars < shortMessageLen
	if short && i.config.Redis != nil && data.OnCooldown(ctx, i.config.Redis, ev.UserID) {
		return quest.Result{}, nil
	}
	var res quest.Result
	err = i.gate.Do(ev.UserID, func() error {
		var err error
		res, err = i.config.Quest.ChatMessage(ctx, ev.GuildID, ev.UserID,
			ev.ChannelID, ev.MessageID, chars, ev.At)
		return err
	})
	if err == nil && short && i.config.Redis != nil {
		// Advisory; a failed write just means no cooldown this round.
		_ = data.SetCooldown(ctx, i.config.Redis, ev.UserID, shortMessageCooldown)
	}
	return res, err
}

// chatTracked reports whether messages in the channel are scored. An
// empty tracked set scores every channel.
func (i *Intake) chatTracked(guildID, channelID string) (bool, error) {
	tracked, err := i.config.Voice.TrackedChannels(guildID, voice.SourceChat)
	if err != nil {
		return false, err
	}
	if len(tracked) == 0 {
		return true, nil
	}
	for _, id := range tracked {
		if id == channelID {
			return true, nil
		}
	}
	return false, nil
}

// VoiceFlush accumulates a finished presence interval and re-checks
// voice milestones against the new window sums.
func (i *Intake) VoiceFlush(ctx context.Context, guildID, userID, channelID string, seconds int64) (quest.Result, error) {
	var res quest.Result
	err := i.gate.Do(userID, func() error {
		if err := i.config.Voice.AddVoiceTime(userID, channelID, seconds); err != nil {
			return err
		}
		var err error
		res, err = i.config.Quest.VoiceTick(ctx, guildID, userID)
		return err
	})
	return res, err
}

// CommandAllowed reports whether a feature command issued in the given
// channel should be handled. Bots never pass; an empty allowlist
// admits every channel.
func (i *Intake) CommandAllowed(ev Event, feature string) (bool, error) {
	if ev.Bot {
		return false, nil
	}
	return data.ChannelAllowed(i.config.DB, ev.GuildID, feature, ev.ChannelID)
}

// Attendance runs the attendance quest for a command event.
func (i *Intake) Attendance(ctx context.Context, ev Event) (quest.Result, error) {
	var res quest.Result
	err := i.gate.Do(ev.UserID, func() error {
		var err error
		res, err = i.config.Quest.Attendance(ctx, ev.GuildID, ev.UserID)
		return err
	})
	return res, err
}

// Certify runs an admin certification for the target user under that
// user's lock, not the admin's.
func (i *Intake) Certify(ctx context.Context, guildID, targetID, condition string, count int) (quest.Result, error) {
	var res quest.Result
	err := i.gate.Do(targetID, func() error {
		var err error
		res, err = i.config.Quest.Certify(ctx, guildID, targetID, condition, count)
		return err
	})
	return res, err
}

// Complete force-completes a quest subtype for the target user.
func (i *Intake) Complete(ctx context.Context, guildID, targetID, subtype string) (quest.Result, error) {
	var res quest.Result
	err := i.gate.Do(targetID, func() error {
		var err error
		res, err = i.config.Quest.Complete(ctx, guildID, targetID, subtype)
		return err
	})
	return res, err
}

// CertifyRank certifies a voice or chat level for the target user.
func (i *Intake) CertifyRank(ctx context.Context, guildID, targetID, kind string, level int) (quest.Result, error) {
	var res quest.Result
	err := i.gate.Do(targetID, func() error {
		var err error
		res, err = i.config.Quest.CertifyRank(ctx, guildID, targetID, kind, level)
		return err
	})
	return res, err
}
