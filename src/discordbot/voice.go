package discordbot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// flushInterval bounds how stale an open presence can get. Periodic
// flushes also make daily milestones fire while a member stays in
// channel, instead of only when they leave.
const flushInterval = time.Minute

type presence struct {
	channelID string
	since     time.Time
}

type presenceTracker struct {
	mu    sync.Mutex
	users map[string]presence
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{users: make(map[string]presence)}
}

// move records a channel change and returns the finished interval, if
// the user was somewhere before. Mute, deafen and stream toggles
// arrive as state updates for the same channel; those leave the
// running interval's start untouched.
func (t *presenceTracker) move(userID, channelID string, now time.Time) (presence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.users[userID]
	switch {
	case channelID == "":
		delete(t.users, userID)
	case ok && prev.channelID == channelID:
	default:
		t.users[userID] = presence{channelID: channelID, since: now}
	}
	return prev, ok
}

// cut closes every open interval at now and restarts it, returning
// the closed spans.
func (t *presenceTracker) cut(now time.Time) map[string]presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]presence, len(t.users))
	for userID, p := range t.users {
		out[userID] = p
		t.users[userID] = presence{channelID: p.channelID, since: now}
	}
	return out
}

func (b *Bot) handleVoiceStateUpdate(s *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
	if ev.GuildID != b.config.GuildID {
		return
	}
	if member, err := s.State.Member(ev.GuildID, ev.UserID); err == nil && member.User != nil && member.User.Bot {
		return
	}

	now := time.Now()
	prev, ok := b.voices.move(ev.UserID, ev.ChannelID, now)
	if !ok || prev.channelID == ev.ChannelID {
		return
	}
	b.flushInterval(ev.GuildID, ev.UserID, prev, now)
}

func (b *Bot) flushInterval(guildID, userID string, p presence, now time.Time) {
	seconds := int64(now.Sub(p.since).Seconds())
	if seconds <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := b.config.Intake.VoiceFlush(ctx, guildID, userID, p.channelID, seconds); err != nil {
		log.Printf("voice flush %s/%s: %v", userID, p.channelID, err)
	}
}

func (b *Bot) runVoiceFlusher(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for userID, p := range b.voices.cut(now) {
				b.flushInterval(b.config.GuildID, userID, p, now)
			}
		}
	}
}

// flushAllVoice closes open intervals on shutdown.
func (b *Bot) flushAllVoice() {
	now := time.Now()
	for userID, p := range b.voices.cut(now) {
		b.flushInterval(b.config.GuildID, userID, p, now)
	}
}
