package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/components/admin"
	"github.com/page-village/onpage/src/components/attendance"
	"github.com/page-village/onpage/src/components/balance"
	"github.com/page-village/onpage/src/components/birthday"
	"github.com/page-village/onpage/src/components/chat"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/components/fortune"
	"github.com/page-village/onpage/src/components/promotion"
	"github.com/page-village/onpage/src/components/quest"
	"github.com/page-village/onpage/src/components/snowflake"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/config"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/discordbot"
	"github.com/page-village/onpage/src/intake"
	"github.com/page-village/onpage/src/scheduler"
	"github.com/page-village/onpage/src/webserver"
)

// resolverProxy breaks the construction cycle between the voice
// ledger (which needs a channel resolver) and the bot (which needs
// the ledger). Until the bot is attached every channel is unknown.
type resolverProxy struct{ bot *discordbot.Bot }

func (r *resolverProxy) Resolve(channelID string) (voice.ChannelKind, bool) {
	if r.bot == nil {
		return 0, false
	}
	return r.bot.Resolve(channelID)
}

func (r *resolverProxy) CategoryChildren(categoryID string) []string {
	if r.bot == nil {
		return nil
	}
	return r.bot.CategoryChildren(categoryID)
}

// roleProxy does the same for the promotion engine's role applier.
type roleProxy struct{ bot *discordbot.Bot }

func (r *roleProxy) AddRole(guildID, userID, roleID string) error {
	if r.bot == nil {
		return fmt.Errorf("role applier not attached")
	}
	return r.bot.AddRole(guildID, userID, roleID)
}

func (r *roleProxy) RemoveRole(guildID, userID, roleID string) error {
	if r.bot == nil {
		return fmt.Errorf("role applier not attached")
	}
	return r.bot.RemoveRole(guildID, userID, roleID)
}

func main() {
	cfg := config.Load()
	if cfg.Token == "" || cfg.GuildID == "" {
		log.Fatal("DISCORD_TOKEN and GUILD_ID are required")
	}

	db := data.MustConnect()
	rdb := data.MustRedis(cfg.RedisURL)
	settings := data.NewSettings(db)
	eventBus := bus.New(rdb)

	resolver := &resolverProxy{}
	roles := &roleProxy{}

	voiceLedger, err := voice.New(db, resolver, rdb)
	if err != nil {
		log.Fatalf("voice ledger: %v", err)
	}
	chatLedger, err := chat.New(db)
	if err != nil {
		log.Fatalf("chat ledger: %v", err)
	}
	balanceLedger, err := balance.New(db)
	if err != nil {
		log.Fatalf("balance ledger: %v", err)
	}
	expLedger, err := exp.New(db)
	if err != nil {
		log.Fatalf("exp ledger: %v", err)
	}
	attendanceStore, err := attendance.New(db)
	if err != nil {
		log.Fatalf("attendance: %v", err)
	}
	birthdayStore, err := birthday.New(db)
	if err != nil {
		log.Fatalf("birthday: %v", err)
	}
	fortuneStore, err := fortune.New(db)
	if err != nil {
		log.Fatalf("fortune: %v", err)
	}

	promoEngine := promotion.NewEngine(expLedger, settings, roles, eventBus)
	evaluator := quest.New(quest.Config{
		Exp:        expLedger,
		Voice:      voiceLedger,
		Chat:       chatLedger,
		Balance:    balanceLedger,
		Attendance: attendanceStore,
		Settings:   settings,
		Promotion:  promoEngine,
		Bus:        eventBus,
	})
	administrator, err := admin.New(admin.Config{
		DB:       db,
		Voice:    voiceLedger,
		Birthday: birthdayStore,
		Fortune:  fortuneStore,
		Bus:      eventBus,
	})
	if err != nil {
		log.Fatalf("administrator: %v", err)
	}
	gate := intake.New(intake.Config{DB: db, Quest: evaluator, Voice: voiceLedger, Redis: rdb})

	sched := scheduler.New(db)
	snowGame := snowflake.New(snowflake.Config{
		DB:       db,
		Settings: settings,
		Exp:      expLedger,
		Bus:      eventBus,
		GuildID:  cfg.GuildID,
	})
	snowGame.Register(sched)

	bot, err := discordbot.New(discordbot.Config{
		Token:       cfg.Token,
		GuildID:     cfg.GuildID,
		CommandChar: cfg.CommandChar,
		DB:          db,
		Settings:    settings,
		Intake:      gate,
		Voice:       voiceLedger,
		Balance:     balanceLedger,
		Exp:         expLedger,
		Attendance:  attendanceStore,
		Birthday:    birthdayStore,
		Fortune:     fortuneStore,
		Admin:       administrator,
		Snowflake:   snowGame,
		Promotion:   promoEngine,
		Bus:         eventBus,
	})
	if err != nil {
		log.Fatalf("discord: %v", err)
	}
	resolver.bot = bot
	roles.bot = bot

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Daily broadcast announces birthdays at the configured send time.
	sched.Handle("daily_broadcast", func(ctx context.Context, _ string) {
		announceBirthdays(bot, birthdayStore, settings, cfg.GuildID)
	})
	if hour, minute, ok := settings.SendTime(cfg.GuildID); ok {
		sched.ScheduleDaily("daily_broadcast", hour, minute)
	}

	go attendanceStore.ListenSwaps(ctx, eventBus)
	go sched.Start(ctx)
	go discordbot.NewNotifier(bot).Start(ctx)

	if err := bot.Start(ctx); err != nil {
		log.Fatalf("discord open: %v", err)
	}

	api := webserver.New(webserver.Config{
		GuildID:   cfg.GuildID,
		JWTSecret: cfg.JWTSecret,
		AdminKey:  cfg.AdminKey,
		Settings:  settings,
		Voice:     voiceLedger,
		Exp:       expLedger,
		Balance:   balanceLedger,
		Admin:     administrator,
	})
	httpSrv := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: api,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()
	log.Printf("onpage listening on %s", cfg.APIPort)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	cancel()
	if err := bot.Stop(); err != nil {
		log.Printf("discord close: %v", err)
	}
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
}

func announceBirthdays(bot *discordbot.Bot, store *birthday.Store, settings *data.Settings, guildID string) {
	rows, err := store.TodaysBirthdays()
	if err != nil {
		log.Printf("birthday broadcast: %v", err)
		return
	}
	channel := settings.Get(guildID, "announce_channel", "")
	if channel == "" || len(rows) == 0 {
		return
	}
	msg := "Happy birthday to"
	for _, row := range rows {
		msg += fmt.Sprintf(" <@%s>", row.UserID)
	}
	if _, err := bot.Session().ChannelMessageSend(channel, msg+"!"); err != nil {
		log.Printf("birthday broadcast send: %v", err)
	}
}
