package discordbot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/components/quest"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/data"
)

// canAdminister allows guild administrators and any member holding a
// configured auth role.
func (b *Bot) canAdminister(m *discordgo.MessageCreate) bool {
	if m.Member == nil {
		return false
	}
	perms, err := b.session.State.MessagePermissions(m.Message)
	if err == nil && perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	ok, err := b.config.Balance.HasAuthRole(m.GuildID, m.Member.Roles)
	if err != nil {
		log.Printf("auth role check: %v", err)
		return false
	}
	return ok
}

func (b *Bot) dispatchAdmin(ctx context.Context, m *discordgo.MessageCreate, cmd string, args []string) {
	if !b.canAdminister(m) {
		return
	}
	switch cmd {
	case "give", "take":
		b.cmdGiveTake(m, cmd, args)
	case "grantchannel":
		b.cmdGrantChannel(m, args)
	case "expgive", "exptake":
		b.cmdExpAdjust(m, cmd, args)
	case "certify":
		b.cmdCertify(ctx, m, args)
	case "complete":
		b.cmdComplete(ctx, m, args)
	case "certifyrank":
		b.cmdCertifyRank(ctx, m, args)
	case "authitem":
		b.cmdAuthItem(m, args)
	case "authrole":
		b.cmdAuthRole(m, args)
	case "limits":
		b.cmdLimits(m, args)
	case "allow", "disallow":
		b.cmdAllowlist(m, cmd, args)
	case "merge":
		b.cmdMerge(ctx, m, args)
	case "resetuser":
		b.cmdResetUser(m, args)
	case "track":
		b.cmdTrack(m, args)
	}
}

func (b *Bot) cmdGiveTake(m *discordgo.MessageCreate, cmd string, args []string) {
	if len(args) < 2 {
		b.reply(m.ChannelID, fmt.Sprintf("Usage: %s @user <amount> [count]", cmd))
		return
	}
	target := parseMention(args[0])
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if target == "" || err != nil || amount <= 0 {
		b.reply(m.ChannelID, fmt.Sprintf("Usage: %s @user <amount> [count]", cmd))
		return
	}
	if cmd == "give" && len(args) > 2 {
		count, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || count <= 0 {
			b.reply(m.ChannelID, "Count must be a positive number.")
			return
		}
		amount *= count
	}
	if cmd == "give" {
		err = b.config.Balance.Give(target, amount)
	} else {
		err = b.config.Balance.Take(target, amount)
	}
	if err != nil {
		log.Printf("%s %s: %v", cmd, target, err)
		return
	}
	symbol := b.config.Settings.CurrencySymbol(m.GuildID)
	b.reply(m.ChannelID, fmt.Sprintf("Adjusted <@%s> by %s%d%s.", target,
		map[string]string{"give": "+", "take": "-"}[cmd], amount, symbol))
}

// grantHistoryCap bounds how far back the channel scan reads.
const grantHistoryCap = 1000

// cmdGrantChannel pays every distinct human author in the channel's
// recent history.
func (b *Bot) cmdGrantChannel(m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		b.reply(m.ChannelID, "Usage: grantchannel <#channel> <amount>")
		return
	}
	channelID := parseChannelRef(args[0])
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if channelID == "" || err != nil || amount <= 0 {
		b.reply(m.ChannelID, "Usage: grantchannel <#channel> <amount>")
		return
	}

	seen := make(map[string]bool)
	var userIDs []string
	before := ""
	for fetched := 0; fetched < grantHistoryCap; {
		msgs, err := b.session.ChannelMessages(channelID, 100, before, "", "")
		if err != nil {
			log.Printf("grantchannel history %s: %v", channelID, err)
			return
		}
		if len(msgs) == 0 {
			break
		}
		for _, msg := range msgs {
			if msg.Author == nil || msg.Author.Bot || seen[msg.Author.ID] {
				continue
			}
			seen[msg.Author.ID] = true
			userIDs = append(userIDs, msg.Author.ID)
		}
		fetched += len(msgs)
		before = msgs[len(msgs)-1].ID
	}
	if len(userIDs) == 0 {
		b.reply(m.ChannelID, "No eligible members found in that channel.")
		return
	}

	n, err := b.config.Balance.BulkGrant(userIDs, amount)
	if err != nil {
		log.Printf("grantchannel %s: %v", channelID, err)
		return
	}
	symbol := b.config.Settings.CurrencySymbol(m.GuildID)
	b.reply(m.ChannelID, fmt.Sprintf("Granted %d%s to %d members from <#%s>.",
		amount, symbol, n, channelID))
}

func (b *Bot) cmdExpAdjust(m *discordgo.MessageCreate, cmd string, args []string) {
	if len(args) < 2 {
		b.reply(m.ChannelID, fmt.Sprintf("Usage: %s @user <amount>", cmd))
		return
	}
	target := parseMention(args[0])
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if target == "" || err != nil || amount <= 0 {
		b.reply(m.ChannelID, fmt.Sprintf("Usage: %s @user <amount>", cmd))
		return
	}
	if cmd == "expgive" {
		err = b.config.Exp.Add(target, amount, exp.TypeManual, "admin")
	} else {
		err = b.config.Exp.Remove(target, amount)
	}
	if err != nil {
		log.Printf("%s %s: %v", cmd, target, err)
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Adjusted <@%s> pages by %s%d.", target,
		map[string]string{"expgive": "+", "exptake": "-"}[cmd], amount))
}

func (b *Bot) cmdComplete(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		b.reply(m.ChannelID, "Usage: complete @user <subtype>")
		return
	}
	target := parseMention(args[0])
	if target == "" {
		b.reply(m.ChannelID, "Usage: complete @user <subtype>")
		return
	}
	res, err := b.config.Intake.Complete(ctx, m.GuildID, target, args[1])
	if err != nil {
		log.Printf("complete %s: %v", target, err)
		return
	}
	if res.Rejected == quest.RejectAlreadyDone {
		b.reply(m.ChannelID, fmt.Sprintf("<@%s> already completed %s today.", target, args[1]))
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Marked %s complete for <@%s> (+%d pages).",
		args[1], target, res.ExpGained))
}

func (b *Bot) cmdCertify(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		b.reply(m.ChannelID, "Usage: certify @user <condition> [count]")
		return
	}
	target := parseMention(args[0])
	if target == "" {
		b.reply(m.ChannelID, "Usage: certify @user <condition> [count]")
		return
	}
	count := 1
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 {
			b.reply(m.ChannelID, "Count must be a positive number.")
			return
		}
		count = n
	}

	res, err := b.config.Intake.Certify(ctx, m.GuildID, target, args[1], count)
	if err != nil {
		log.Printf("certify %s: %v", target, err)
		return
	}
	if res.Rejected == quest.RejectUnknownQuest {
		b.reply(m.ChannelID, fmt.Sprintf("No certification named %q.", args[1]))
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Certified %s x%d for <@%s>.", args[1], count, target))
}

func (b *Bot) cmdCertifyRank(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 3 {
		b.reply(m.ChannelID, "Usage: certifyrank @user voice|chat <level>")
		return
	}
	target := parseMention(args[0])
	level, err := strconv.Atoi(args[2])
	if target == "" || err != nil {
		b.reply(m.ChannelID, "Usage: certifyrank @user voice|chat <level>")
		return
	}

	res, err := b.config.Intake.CertifyRank(ctx, m.GuildID, target, args[1], level)
	if err != nil {
		log.Printf("certifyrank %s: %v", target, err)
		return
	}
	switch res.Rejected {
	case quest.RejectUnknownQuest:
		b.reply(m.ChannelID, "Rank kind must be voice or chat.")
	case quest.RejectBadLevel:
		b.reply(m.ChannelID, "Level must be positive.")
	case quest.RejectAlreadyDone:
		b.reply(m.ChannelID, "That level is already certified.")
	default:
		b.reply(m.ChannelID, fmt.Sprintf("Certified %s level %d for <@%s> (+%d pages).",
			args[1], level, target, res.ExpGained))
	}
}

// cmdAuthItem manages the named certifications the certify command
// pays out.
func (b *Bot) cmdAuthItem(m *discordgo.MessageCreate, args []string) {
	const usage = "Usage: authitem set <condition> <reward> | authitem list"
	if len(args) < 1 {
		b.reply(m.ChannelID, usage)
		return
	}
	switch args[0] {
	case "list":
		items, err := b.config.Balance.AuthItems(m.GuildID)
		if err != nil {
			log.Printf("authitem list: %v", err)
			return
		}
		if len(items) == 0 {
			b.reply(m.ChannelID, "No certifications configured.")
			return
		}
		var sb strings.Builder
		sb.WriteString("Certifications:\n")
		for _, it := range items {
			fmt.Fprintf(&sb, "%s: %d\n", it.Condition, it.Reward)
		}
		b.reply(m.ChannelID, sb.String())
	case "set":
		if len(args) < 3 {
			b.reply(m.ChannelID, usage)
			return
		}
		reward, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || reward < 0 {
			b.reply(m.ChannelID, "Reward must be a non-negative number.")
			return
		}
		if err := b.config.Balance.SetAuthItem(m.GuildID, args[1], reward); err != nil {
			log.Printf("authitem set %s: %v", args[1], err)
			return
		}
		b.reply(m.ChannelID, fmt.Sprintf("Certification %s pays %d.", args[1], reward))
	default:
		b.reply(m.ChannelID, usage)
	}
}

func (b *Bot) cmdAuthRole(m *discordgo.MessageCreate, args []string) {
	const usage = "Usage: authrole add|remove <@role|roleID>"
	if len(args) < 2 {
		b.reply(m.ChannelID, usage)
		return
	}
	roleID := parseRoleRef(args[1])
	if roleID == "" {
		b.reply(m.ChannelID, usage)
		return
	}
	var err error
	switch args[0] {
	case "add":
		err = b.config.Balance.AddAuthRole(m.GuildID, roleID)
	case "remove":
		err = b.config.Balance.RemoveAuthRole(m.GuildID, roleID)
	default:
		b.reply(m.ChannelID, usage)
		return
	}
	if err != nil {
		log.Printf("authrole %s %s: %v", args[0], roleID, err)
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Certifier roles updated: %s <@&%s>.", args[0], roleID))
}

func (b *Bot) cmdLimits(m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		b.reply(m.ChannelID, "Usage: limits <dailySend> <dailyReceive>")
		return
	}
	send, err1 := strconv.Atoi(args[0])
	receive, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || send <= 0 || receive <= 0 {
		b.reply(m.ChannelID, "Limits must be positive numbers.")
		return
	}
	if err := b.config.Balance.SetTransferLimits(m.GuildID, send, receive); err != nil {
		log.Printf("limits: %v", err)
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Daily transfer caps set: %d sends, %d receives.", send, receive))
}

// cmdAllowlist edits a feature's command channel allowlist.
func (b *Bot) cmdAllowlist(m *discordgo.MessageCreate, cmd string, args []string) {
	if len(args) < 2 {
		b.reply(m.ChannelID, fmt.Sprintf("Usage: %s <feature> <#channel>", cmd))
		return
	}
	feature, channelID := args[0], parseChannelRef(args[1])
	var err error
	if cmd == "allow" {
		err = data.AllowChannel(b.config.DB, m.GuildID, feature, channelID)
	} else {
		err = data.DisallowChannel(b.config.DB, m.GuildID, feature, channelID)
	}
	if err != nil {
		log.Printf("%s %s %s: %v", cmd, feature, channelID, err)
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Allowlist for %s updated: %s <#%s>.", feature, cmd, channelID))
}

func (b *Bot) cmdMerge(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		b.reply(m.ChannelID, "Usage: merge <fromID> <intoID>")
		return
	}
	from, into := parseMention(args[0]), parseMention(args[1])
	if from == "" || into == "" || from == into {
		b.reply(m.ChannelID, "Usage: merge <fromID> <intoID>")
		return
	}
	report := b.config.Admin.Merge(ctx, from, into)
	if report.OK() {
		b.reply(m.ChannelID, fmt.Sprintf("Merged <@%s> into <@%s>.", from, into))
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Merge finished with errors: %v", report))
}

func (b *Bot) cmdResetUser(m *discordgo.MessageCreate, args []string) {
	if len(args) < 1 {
		b.reply(m.ChannelID, "Usage: resetuser @user")
		return
	}
	target := parseMention(args[0])
	if target == "" {
		b.reply(m.ChannelID, "Usage: resetuser @user")
		return
	}
	if err := b.config.Admin.ResetUser(target); err != nil {
		log.Printf("resetuser %s: %v", target, err)
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Cleared all ledgers for <@%s>.", target))
}

func (b *Bot) cmdTrack(m *discordgo.MessageCreate, args []string) {
	const usage = "Usage: track [voice|chat] add|remove|list|reset [channelID]"
	source := voice.SourceVoice
	if len(args) > 0 && (args[0] == voice.SourceVoice || args[0] == voice.SourceChat) {
		source = args[0]
		args = args[1:]
	}
	if len(args) < 1 {
		b.reply(m.ChannelID, usage)
		return
	}
	switch args[0] {
	case "reset":
		if err := b.config.Admin.ResetTrackedChannels(m.GuildID, source); err != nil {
			log.Printf("track reset: %v", err)
			return
		}
		b.reply(m.ChannelID, fmt.Sprintf("Tracked %s channel set cleared.", source))
	case "list":
		channels, err := b.config.Voice.TrackedChannels(m.GuildID, source)
		if err != nil {
			log.Printf("track list: %v", err)
			return
		}
		if len(channels) == 0 {
			b.reply(m.ChannelID, fmt.Sprintf("No tracked %s channels.", source))
			return
		}
		out := fmt.Sprintf("Tracked (%s):", source)
		for _, id := range channels {
			out += fmt.Sprintf(" <#%s>", id)
		}
		b.reply(m.ChannelID, out)
	case "add", "remove":
		if len(args) < 2 {
			b.reply(m.ChannelID, usage)
			return
		}
		id := parseChannelRef(args[1])
		var err error
		if args[0] == "add" {
			err = b.config.Voice.AddTrackedChannel(m.GuildID, source, id)
		} else {
			err = b.config.Voice.RemoveTrackedChannel(m.GuildID, source, id)
		}
		if err != nil {
			log.Printf("track %s %s: %v", args[0], id, err)
			return
		}
		b.reply(m.ChannelID, fmt.Sprintf("Tracked %s set updated: %s <#%s>.", source, args[0], id))
	default:
		b.reply(m.ChannelID, usage)
	}
}

// parseChannelRef extracts a channel id from <#id> or a raw id.
func parseChannelRef(s string) string {
	if len(s) > 3 && s[0] == '<' && s[1] == '#' && s[len(s)-1] == '>' {
		return s[2 : len(s)-1]
	}
	return s
}

// parseRoleRef extracts a role id from <@&id> or a raw id.
func parseRoleRef(s string) string {
	if len(s) > 4 && s[0] == '<' && s[1] == '@' && s[2] == '&' && s[len(s)-1] == '>' {
		return s[3 : len(s)-1]
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s
}
