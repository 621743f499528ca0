package discordbot

import (
	"context"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/components/admin"
	"github.com/page-village/onpage/src/components/attendance"
	"github.com/page-village/onpage/src/components/balance"
	"github.com/page-village/onpage/src/components/birthday"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/components/fortune"
	"github.com/page-village/onpage/src/components/promotion"
	"github.com/page-village/onpage/src/components/snowflake"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/intake"
	"gorm.io/gorm"
)

type Config struct {
	Token       string
	GuildID     string
	CommandChar string

	DB         *gorm.DB
	Settings   *data.Settings
	Intake     *intake.Intake
	Voice      *voice.Ledger
	Balance    *balance.Ledger
	Exp        *exp.Ledger
	Attendance *attendance.Store
	Birthday   *birthday.Store
	Fortune    *fortune.Store
	Admin      *admin.Administrator
	Snowflake  *snowflake.Game
	Promotion  *promotion.Engine
	Bus        *bus.Bus
}

// Bot is the platform connector. It owns the gateway session, feeds
// normalized events into the intake gate, and applies role and
// nickname changes the promotion engine asks for.
type Bot struct {
	config  Config
	session *discordgo.Session
	voices  *presenceTracker
}

func New(config Config) (*Bot, error) {
	dg, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		config:  config,
		session: dg,
		voices:  newPresenceTracker(),
	}

	dg.AddHandler(b.handleReady)
	dg.AddHandler(b.handleMessageCreate)
	dg.AddHandler(b.handleVoiceStateUpdate)
	dg.AddHandler(b.handleChannelDelete)
	dg.AddHandler(b.handleMemberUpdate)

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers

	return b, nil
}

// Session exposes the gateway session for the notifier.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Start opens the gateway and runs the periodic voice flusher until
// ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return err
	}
	go b.runVoiceFlusher(ctx)
	return nil
}

func (b *Bot) Stop() error {
	b.flushAllVoice()
	return b.session.Close()
}

func (b *Bot) handleReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Discord bot ready as %s", event.User.Username)
}

// handleMemberUpdate keeps title prefixes correct when roles change
// out of band.
func (b *Bot) handleMemberUpdate(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.GuildID != b.config.GuildID || m.User == nil || m.User.Bot {
		return
	}
	b.applyTitle(m.Member)
}

// applyTitle rewrites the member's display name per the title rules.
func (b *Bot) applyTitle(member *discordgo.Member) {
	changer := b.prefixChanger()
	if changer == nil {
		return
	}
	name := member.Nick
	if name == "" {
		name = member.User.Username
	}
	next, changed := changer.Rewrite(name, member.Roles)
	if !changed {
		return
	}
	if err := b.session.GuildMemberNickname(b.config.GuildID, member.User.ID, next); err != nil {
		log.Printf("nickname rewrite for %s: %v", member.User.ID, err)
	}
}

const settingTitleRules = "title_rules"

func (b *Bot) prefixChanger() *promotion.PrefixChanger {
	var rules []promotion.TitleRule
	ok, err := b.config.Settings.GetJSON(b.config.GuildID, settingTitleRules, &rules)
	if err != nil || !ok || len(rules) == 0 {
		return nil
	}
	var exceptions []string
	if _, err := b.config.Settings.GetJSON(b.config.GuildID, "title_exception_roles", &exceptions); err != nil {
		return nil
	}
	return promotion.NewPrefixChanger(rules, exceptions)
}

// AddRole and RemoveRole satisfy the promotion engine's RoleApplier.
func (b *Bot) AddRole(guildID, userID, roleID string) error {
	return b.session.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (b *Bot) RemoveRole(guildID, userID, roleID string) error {
	return b.session.GuildMemberRoleRemove(guildID, userID, roleID)
}

// Resolve satisfies the voice ledger's ChannelResolver.
func (b *Bot) Resolve(channelID string) (voice.ChannelKind, bool) {
	ch, err := b.session.State.Channel(channelID)
	if err != nil {
		ch, err = b.session.Channel(channelID)
		if err != nil {
			return 0, false
		}
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildVoice:
		return voice.KindVoice, true
	case discordgo.ChannelTypeGuildStageVoice:
		return voice.KindStage, true
	case discordgo.ChannelTypeGuildCategory:
		return voice.KindCategory, true
	default:
		return voice.KindText, true
	}
}

// CategoryChildren lists the live voice and stage children of a
// category from gateway state.
func (b *Bot) CategoryChildren(categoryID string) []string {
	guild, err := b.session.State.Guild(b.config.GuildID)
	if err != nil {
		return nil
	}
	var out []string
	for _, ch := range guild.Channels {
		if ch.ParentID != categoryID {
			continue
		}
		if ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice {
			out = append(out, ch.ID)
		}
	}
	return out
}

// handleChannelDelete records the channel's parent category so past
// voice time keeps aggregating under the category.
func (b *Bot) handleChannelDelete(s *discordgo.Session, ev *discordgo.ChannelDelete) {
	if ev.Channel == nil || ev.Channel.ParentID == "" {
		return
	}
	if err := b.config.Voice.RecordChannelDeleted(ev.Channel.ID, ev.Channel.ParentID); err != nil {
		log.Printf("record deleted channel %s: %v", ev.Channel.ID, err)
	}
}

// isBotUser checks the member cache first and falls back to the API.
func (b *Bot) isBotUser(guildID, userID string) bool {
	if member, err := b.session.State.Member(guildID, userID); err == nil && member.User != nil {
		return member.User.Bot
	}
	u, err := b.session.User(userID)
	if err != nil {
		return false
	}
	return u.Bot
}

func (b *Bot) reply(channelID, msg string) {
	if _, err := b.session.ChannelMessageSend(channelID, msg); err != nil {
		log.Printf("send to %s: %v", channelID, err)
	}
}

func normalizeEvent(m *discordgo.MessageCreate) intake.Event {
	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return intake.Event{
		GuildID:   m.GuildID,
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Bot:       m.Author.Bot,
		At:        at,
	}
}
