package discordbot

import (
	"context"
	"fmt"
	"log"

	"github.com/page-village/onpage/src/bus"
)

const settingAnnounceChannel = "announce_channel"

// Notifier relays bus events into the guild's announce channel. It is
// a separate consumer so ledger writes never wait on Discord I/O.
type Notifier struct {
	bot *Bot
}

func NewNotifier(bot *Bot) *Notifier {
	return &Notifier{bot: bot}
}

func (n *Notifier) channel() string {
	return n.bot.config.Settings.Get(n.bot.config.GuildID, settingAnnounceChannel, "")
}

// Start consumes promotion and snowflake events until ctx is
// cancelled. Quest completions are acknowledged inline by the command
// handlers, so only the cross-cutting announcements live here.
func (n *Notifier) Start(ctx context.Context) {
	promotions := n.bot.config.Bus.Subscribe(bus.TopicPromotion)
	spawns := n.bot.config.Bus.Subscribe(bus.TopicSnowflakeSpawned)
	log.Println("Starting announce notifier")

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping announce notifier")
			return
		case ev := <-promotions:
			n.announcePromotion(ev)
		case ev := <-spawns:
			n.announceSpawn(ev)
		}
	}
}

func (n *Notifier) announcePromotion(ev bus.Event) {
	ch := n.channel()
	if ch == "" {
		return
	}
	n.bot.reply(ch, fmt.Sprintf("<@%s> advanced to tier %s with %s pages!",
		ev.UserID, ev.Fields["tier"], ev.Fields["total"]))

	// Promotions can change the member's title prefix.
	member, err := n.bot.session.GuildMember(ev.GuildID, ev.UserID)
	if err != nil {
		log.Printf("notifier: member %s: %v", ev.UserID, err)
		return
	}
	n.bot.applyTitle(member)
}

func (n *Notifier) announceSpawn(ev bus.Event) {
	ch := n.channel()
	if ch == "" {
		return
	}
	n.bot.reply(ch, fmt.Sprintf("A snowflake drifts down... first %sclaim takes it!",
		n.bot.config.CommandChar))
}
