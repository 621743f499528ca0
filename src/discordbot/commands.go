package discordbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/components/balance"
	"github.com/page-village/onpage/src/components/birthday"
	"github.com/page-village/onpage/src/components/fortune"
	"github.com/page-village/onpage/src/components/quest"
	"github.com/page-village/onpage/src/components/snowflake"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/intake"
)

func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.GuildID != b.config.GuildID {
		return
	}
	ev := normalizeEvent(m)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if !strings.HasPrefix(m.Content, b.config.CommandChar) {
		if _, err := b.config.Intake.Message(ctx, ev); err != nil {
			log.Printf("score message %s: %v", m.ID, err)
		}
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, b.config.CommandChar))
	if len(fields) == 0 {
		return
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "attendance":
		b.cmdAttendance(ctx, ev)
	case "balance":
		b.cmdBalance(ev)
	case "send":
		b.cmdSend(ev, args)
	case "fortune":
		b.cmdFortune(ev)
	case "birthday":
		b.cmdBirthday(ev, args)
	case "rank":
		b.cmdRank(ctx, ev, args)
	case "top":
		b.cmdTop(ev, args)
	case "claim":
		b.cmdClaim(ctx, ev)
	case "fees":
		b.cmdFees(ev)
	case "rankstatus":
		b.cmdRankStatus(ev, args)
	case "give", "take", "certify", "certifyrank", "complete",
		"grantchannel", "expgive", "exptake", "merge", "resetuser", "track",
		"authitem", "authrole", "limits", "allow", "disallow":
		b.dispatchAdmin(ctx, m, cmd, args)
	}
}

// allowed checks the feature's channel allowlist and logs failures.
func (b *Bot) allowed(ev intake.Event, feature string) bool {
	ok, err := b.config.Intake.CommandAllowed(ev, feature)
	if err != nil {
		log.Printf("allowlist %s: %v", feature, err)
		return false
	}
	return ok
}

func (b *Bot) cmdAttendance(ctx context.Context, ev intake.Event) {
	if !b.allowed(ev, "attendance") {
		return
	}
	res, err := b.config.Intake.Attendance(ctx, ev)
	if err != nil {
		log.Printf("attendance %s: %v", ev.UserID, err)
		return
	}
	if res.Rejected == quest.RejectAlreadyDone {
		b.reply(ev.ChannelID, fmt.Sprintf("<@%s> already checked in today.", ev.UserID))
		return
	}
	streak, err := b.config.Attendance.Streak(ev.GuildID, ev.UserID)
	if err != nil {
		streak = 0
	}
	b.reply(ev.ChannelID, fmt.Sprintf("<@%s> checked in! +%d pages (streak %d days).",
		ev.UserID, res.ExpGained, streak))
}

func (b *Bot) cmdBalance(ev intake.Event) {
	amount, err := b.config.Balance.Get(ev.UserID)
	if err != nil {
		log.Printf("balance %s: %v", ev.UserID, err)
		return
	}
	symbol := b.config.Settings.CurrencySymbol(ev.GuildID)
	b.reply(ev.ChannelID, fmt.Sprintf("<@%s> holds %d%s.", ev.UserID, amount, symbol))
}

func (b *Bot) cmdSend(ev intake.Event, args []string) {
	if !b.allowed(ev, "transfer") {
		return
	}
	if len(args) < 2 {
		b.reply(ev.ChannelID, "Usage: send @user <amount>")
		return
	}
	receiver := parseMention(args[0])
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if receiver == "" || err != nil {
		b.reply(ev.ChannelID, "Usage: send @user <amount>")
		return
	}
	if b.isBotUser(ev.GuildID, receiver) {
		b.reply(ev.ChannelID, "Bots cannot receive pages.")
		return
	}

	// Serialized on the sender so racing commands from one user see
	// each other's journal rows.
	var fee int64
	err = b.config.Intake.Gate().Do(ev.UserID, func() error {
		var err error
		fee, err = b.config.Balance.Send(ev.GuildID, ev.UserID, receiver, amount)
		return err
	})
	symbol := b.config.Settings.CurrencySymbol(ev.GuildID)
	switch {
	case err == nil:
		b.reply(ev.ChannelID, fmt.Sprintf("Sent %d%s to <@%s> (fee %d%s).",
			amount, symbol, receiver, fee, symbol))
	case errors.Is(err, balance.ErrInsufficientFunds):
		b.reply(ev.ChannelID, "Not enough funds to cover the amount and fee.")
	case errors.Is(err, balance.ErrOverDailySend):
		b.reply(ev.ChannelID, "Daily send limit reached.")
	case errors.Is(err, balance.ErrOverDailyReceive):
		b.reply(ev.ChannelID, "That member hit their daily receive limit.")
	case errors.Is(err, balance.ErrSelfTransfer), errors.Is(err, balance.ErrNonPositive):
		b.reply(ev.ChannelID, "Invalid transfer.")
	default:
		log.Printf("send %s -> %s: %v", ev.UserID, receiver, err)
	}
}

func (b *Bot) cmdFortune(ev intake.Event) {
	if !b.allowed(ev, "fortune") {
		return
	}
	err := b.config.Fortune.Use(ev.GuildID, ev.UserID)
	if errors.Is(err, fortune.ErrExhausted) {
		b.reply(ev.ChannelID, fmt.Sprintf("<@%s> has no fortune days left.", ev.UserID))
		return
	}
	if err != nil {
		log.Printf("fortune %s: %v", ev.UserID, err)
		return
	}
	remaining, _, err := b.config.Fortune.Remaining(ev.GuildID, ev.UserID)
	if err != nil {
		remaining = 0
	}
	b.reply(ev.ChannelID, fmt.Sprintf("<@%s> draws today's fortune. %d days remain.",
		ev.UserID, remaining))
}

func (b *Bot) cmdBirthday(ev intake.Event, args []string) {
	if len(args) == 0 {
		b.reply(ev.ChannelID, "Usage: birthday MM-DD or YYYY-MM-DD")
		return
	}
	year, month, day, err := parseBirthday(args[0])
	if err != nil {
		b.reply(ev.ChannelID, "Usage: birthday MM-DD or YYYY-MM-DD")
		return
	}
	switch err := b.config.Birthday.Set(ev.UserID, year, month, day); {
	case err == nil:
		b.reply(ev.ChannelID, fmt.Sprintf("Birthday saved for <@%s>.", ev.UserID))
	case errors.Is(err, birthday.ErrEditLimit):
		b.reply(ev.ChannelID, "Birthday can only be changed twice.")
	case errors.Is(err, birthday.ErrBadDate):
		b.reply(ev.ChannelID, "That date does not exist.")
	default:
		log.Printf("birthday %s: %v", ev.UserID, err)
	}
}

func (b *Bot) cmdRank(ctx context.Context, ev intake.Event, args []string) {
	period := calendar.PeriodWeekly
	if len(args) > 0 {
		p, err := calendar.ParsePeriod(args[0])
		if err != nil {
			b.reply(ev.ChannelID, "Periods: daily, weekly, monthly, all")
			return
		}
		period = p
	}

	channels, err := b.config.Voice.ExpandChannels(ctx, ev.GuildID, voice.SourceVoice)
	if err != nil {
		log.Printf("rank expand: %v", err)
		return
	}
	rank, err := b.config.Voice.UserRank(ev.UserID, period, calendar.Now(), channels)
	if err != nil {
		log.Printf("rank %s: %v", ev.UserID, err)
		return
	}
	hours := rank.Seconds / 3600
	minutes := rank.Seconds % 3600 / 60
	b.reply(ev.ChannelID, fmt.Sprintf("<@%s>: #%d of %d with %dh %dm voice time (%s).",
		ev.UserID, rank.Rank, rank.TotalUsers, hours, minutes, period))
}

func (b *Bot) cmdTop(ev intake.Event, args []string) {
	period := calendar.PeriodWeekly
	if len(args) > 0 {
		p, err := calendar.ParsePeriod(args[0])
		if err != nil {
			b.reply(ev.ChannelID, "Periods: daily, weekly, monthly, all")
			return
		}
		period = p
	}
	rows, err := b.config.Exp.PeriodRankings(period, calendar.Now())
	if err != nil {
		log.Printf("top: %v", err)
		return
	}
	if len(rows) == 0 {
		b.reply(ev.ChannelID, "No activity yet this period.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Top pages (%s):\n", period)
	for i, row := range rows {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&sb, "%d. <@%s> — %d\n", i+1, row.UserID, row.Exp)
	}
	b.reply(ev.ChannelID, sb.String())
}

func (b *Bot) cmdFees(ev intake.Event) {
	tiers, err := b.config.Balance.FeeTiers(ev.GuildID)
	if err != nil {
		log.Printf("fees: %v", err)
		return
	}
	symbol := b.config.Settings.CurrencySymbol(ev.GuildID)
	if len(tiers) == 0 {
		b.reply(ev.ChannelID, fmt.Sprintf("Transfer fees: 500%s under 50000, 1000%s above.",
			symbol, symbol))
		return
	}
	var sb strings.Builder
	sb.WriteString("Transfer fees:\n")
	for _, t := range tiers {
		fmt.Fprintf(&sb, "from %d%s: fee %d%s\n", t.MinAmount, symbol, t.Fee, symbol)
	}
	b.reply(ev.ChannelID, sb.String())
}

func (b *Bot) cmdRankStatus(ev intake.Event, args []string) {
	target := ev.UserID
	if len(args) > 0 {
		if id := parseMention(args[0]); id != "" {
			target = id
		}
	}
	voiceLevel, err := b.config.Exp.CertifiedLevel(target, "voice")
	if err != nil {
		log.Printf("rankstatus %s: %v", target, err)
		return
	}
	chatLevel, err := b.config.Exp.CertifiedLevel(target, "chat")
	if err != nil {
		log.Printf("rankstatus %s: %v", target, err)
		return
	}
	b.reply(ev.ChannelID, fmt.Sprintf("<@%s>: voice rank %d, chat rank %d certified.",
		target, voiceLevel, chatLevel))
}

func (b *Bot) cmdClaim(ctx context.Context, ev intake.Event) {
	spawn, err := b.config.Snowflake.LatestOpen(ev.GuildID)
	if err != nil {
		log.Printf("claim lookup: %v", err)
		return
	}
	if spawn == nil {
		b.reply(ev.ChannelID, "Nothing to claim right now.")
		return
	}
	award, err := b.config.Snowflake.Claim(ctx, spawn.ID, ev.UserID)
	switch {
	case err == nil:
		b.reply(ev.ChannelID, fmt.Sprintf("<@%s> caught the snowflake! +%d pages.", ev.UserID, award))
	case errors.Is(err, snowflake.ErrClaimed):
		b.reply(ev.ChannelID, "Too slow, someone else caught it.")
	case errors.Is(err, snowflake.ErrNoSpawn):
		b.reply(ev.ChannelID, "Nothing to claim right now.")
	default:
		log.Printf("claim %s: %v", spawn.ID, err)
	}
}

// parseMention extracts a user id from <@id>, <@!id>, or a raw id.
func parseMention(s string) string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
	s = strings.TrimPrefix(s, "!")
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if s == "" {
		return ""
	}
	return s
}

// parseBirthday accepts MM-DD or YYYY-MM-DD.
func parseBirthday(s string) (year, month, day int, err error) {
	parts := strings.Split(s, "-")
	switch len(parts) {
	case 2:
		month, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, 0, err
		}
		day, err = strconv.Atoi(parts[1])
		return 0, month, day, err
	case 3:
		year, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, 0, err
		}
		month, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, 0, err
		}
		day, err = strconv.Atoi(parts[2])
		return year, month, day, err
	default:
		return 0, 0, 0, fmt.Errorf("bad date %q", s)
	}
}
