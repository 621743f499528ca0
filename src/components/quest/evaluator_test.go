package quest

import (
	"context"
	"testing"

	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/components/attendance"
	"github.com/page-village/onpage/src/components/balance"
	"github.com/page-village/onpage/src/components/chat"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/components/promotion"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
)

type staticResolver struct{}

func (staticResolver) Resolve(id string) (voice.ChannelKind, bool) {
	return voice.KindVoice, true
}

func (staticResolver) CategoryChildren(string) []string { return nil }

type world struct {
	db   *gorm.DB
	eval *Evaluator
	exp  *exp.Ledger
	bal  *balance.Ledger
	vc   *voice.Ledger
	att  *attendance.Store
	set  *data.Settings
	bus  *bus.Bus
}

func newWorld(t *testing.T) *world {
	t.Helper()
	db, err := data.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	expLedger, err := exp.New(db)
	if err != nil {
		t.Fatal(err)
	}
	voiceLedger, err := voice.New(db, staticResolver{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	chatLedger, err := chat.New(db)
	if err != nil {
		t.Fatal(err)
	}
	balanceLedger, err := balance.New(db)
	if err != nil {
		t.Fatal(err)
	}
	attStore, err := attendance.New(db)
	if err != nil {
		t.Fatal(err)
	}
	settings := data.NewSettings(db)
	b := bus.New(nil)
	promo := promotion.NewEngine(expLedger, settings, nil, b)

	return &world{
		db: db,
		eval: New(Config{
			Exp:        expLedger,
			Voice:      voiceLedger,
			Chat:       chatLedger,
			Balance:    balanceLedger,
			Attendance: attStore,
			Settings:   settings,
			Promotion:  promo,
			Bus:        b,
		}),
		exp: expLedger,
		bal: balanceLedger,
		vc:  voiceLedger,
		att: attStore,
		set: settings,
		bus: b,
	}
}

func TestAttendanceDaily(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	res, err := w.eval.Attendance(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.ExpGained != 10 {
		t.Fatalf("res = %+v", res)
	}

	// Same civil day: conflict, no mutation.
	res, err = w.eval.Attendance(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Rejected != RejectAlreadyDone {
		t.Fatalf("replay res = %+v", res)
	}
	total, _, _ := w.exp.Total("u1")
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
}

func TestAttendanceWeeklyMilestone(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	// Seed three more attendances on other days of the current week.
	// The week count only cares that the date string falls inside the
	// week window, so any three non-today days work.
	start := calendar.WeekStart(calendar.Now())
	seeded := 0
	for i := 0; i < 7 && seeded < 3; i++ {
		day := calendar.DateString(start.AddDate(0, 0, i))
		if day == calendar.Today() {
			continue
		}
		w.seedAttendance(t, "g1", "u1", day)
		seeded++
	}

	res, err := w.eval.Attendance(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("res = %+v", res)
	}
	if res.ExpGained != 10+20 {
		t.Errorf("exp = %d, want 30 (daily + attendance_4)", res.ExpGained)
	}
	if n, _ := w.exp.QuestCount("u1", exp.TypeWeekly, "attendance_4", exp.FrameWeek); n != 1 {
		t.Errorf("attendance_4 rows = %d", n)
	}

	// A fifth attendance the same week must not re-award the bonus.
	res, _ = w.eval.Attendance(ctx, "g1", "u1")
	if res.Success {
		t.Fatalf("same-day replay unexpectedly succeeded: %+v", res)
	}
	if n, _ := w.exp.QuestCount("u1", exp.TypeWeekly, "attendance_4", exp.FrameWeek); n != 1 {
		t.Errorf("attendance_4 rows after replay = %d", n)
	}
}

// seedAttendance inserts a historical attendance row.
func (w *world) seedAttendance(t *testing.T, guildID, userID, date string) {
	t.Helper()
	err := w.db.Create(&types.Attendance{
		GuildID: guildID, UserID: userID, Date: date, CreatedAt: calendar.Now(),
	}).Error
	if err != nil {
		t.Fatal(err)
	}
}

func TestChatMessageIdempotent(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	now := calendar.Now()

	res, err := w.eval.ChatMessage(ctx, "g1", "u1", "c1", "m1", 30, now)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("res = %+v", res)
	}

	res, err = w.eval.ChatMessage(ctx, "g1", "u1", "c1", "m1", 30, now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Rejected != RejectAlreadyDone {
		t.Fatalf("replay res = %+v", res)
	}
}

func TestDiaryQuest(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	if err := w.set.SetJSON("g1", SettingChatQuests, []ChatQuestRule{
		{Subtype: "diary", ChannelID: "diary-ch", MinLength: 50},
	}); err != nil {
		t.Fatal(err)
	}
	now := calendar.Now()

	// Too short: recorded, no quest.
	res, err := w.eval.ChatMessage(ctx, "g1", "u1", "diary-ch", "m1", 10, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.QuestCompleted) != 0 {
		t.Fatalf("short message completed %v", res.QuestCompleted)
	}

	// Long enough: diary awarded.
	res, err = w.eval.ChatMessage(ctx, "g1", "u1", "diary-ch", "m2", 120, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.QuestCompleted) != 1 || res.QuestCompleted[0] != "diary" {
		t.Fatalf("res = %+v", res)
	}

	// Second qualifying message the same day: no second award.
	res, err = w.eval.ChatMessage(ctx, "g1", "u1", "diary-ch", "m3", 120, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.QuestCompleted) != 0 {
		t.Fatalf("second diary awarded: %+v", res)
	}
	if n, _ := w.exp.QuestCount("u1", exp.TypeDaily, "diary", exp.FrameDay); n != 1 {
		t.Errorf("diary rows today = %d", n)
	}

	// Wrong channel: never a diary.
	res, err = w.eval.ChatMessage(ctx, "g1", "u1", "other-ch", "m4", 120, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.QuestCompleted) != 0 {
		t.Fatalf("wrong channel awarded: %+v", res)
	}
}

func TestVoiceMilestones(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	if err := w.vc.AddTrackedChannel("g1", voice.SourceVoice, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := w.vc.AddVoiceTime("u1", "c1", 1800); err != nil {
		t.Fatal(err)
	}

	res, err := w.eval.VoiceTick(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.QuestCompleted) != 1 || res.QuestCompleted[0] != "voice_30m" {
		t.Fatalf("res = %+v", res)
	}

	// Next tick the same day: already awarded.
	res, err = w.eval.VoiceTick(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.QuestCompleted) != 0 {
		t.Fatalf("re-award: %+v", res)
	}

	// Reach the 5h weekly milestone.
	if err := w.vc.AddVoiceTime("u1", "c1", 5*3600); err != nil {
		t.Fatal(err)
	}
	res, err = w.eval.VoiceTick(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.QuestCompleted) != 1 || res.QuestCompleted[0] != "voice_5h" {
		t.Fatalf("res = %+v", res)
	}
}

func TestCertifyRecommend(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	if err := w.bal.SetAuthItem("g1", "recommend", 100); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := w.eval.Certify(ctx, "g1", "u1", "recommend", 1); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := w.exp.QuestCount("u1", exp.TypeWeekly, "recommend_3", exp.FrameWeek); n != 0 {
		t.Fatalf("bonus before third recommend")
	}

	res, err := w.eval.Certify(ctx, "g1", "u1", "recommend", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.QuestCompleted) != 1 || res.QuestCompleted[0] != "recommend_3" {
		t.Fatalf("res = %+v", res)
	}
	if bal, _ := w.bal.Get("u1"); bal != 300 {
		t.Errorf("balance = %d, want 300", bal)
	}

	// Fourth recommend: counter passed 3, bonus stays single.
	if _, err := w.eval.Certify(ctx, "g1", "u1", "recommend", 1); err != nil {
		t.Fatal(err)
	}
	if n, _ := w.exp.QuestCount("u1", exp.TypeWeekly, "recommend_3", exp.FrameWeek); n != 1 {
		t.Errorf("recommend_3 rows = %d", n)
	}
}

func TestCertifyUnknownCondition(t *testing.T) {
	w := newWorld(t)
	res, err := w.eval.Certify(context.Background(), "g1", "u1", "nope", 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Rejected != RejectUnknownQuest {
		t.Fatalf("res = %+v", res)
	}
}

func TestCertifyRank(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	if err := w.exp.SetCertifiedLevel("u1", "voice", 8); err != nil {
		t.Fatal(err)
	}

	res, err := w.eval.CertifyRank(ctx, "g1", "u1", "voice", 15)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExpGained != 40 {
		t.Errorf("exp = %d, want 40", res.ExpGained)
	}
	for _, key := range []string{"rank_voice_10", "rank_voice_15"} {
		if ok, _ := w.exp.HasOneShot("u1", key); !ok {
			t.Errorf("missing one-shot %s", key)
		}
	}
	if lvl, _ := w.exp.CertifiedLevel("u1", "voice"); lvl != 15 {
		t.Errorf("level = %d, want 15", lvl)
	}

	// Re-certifying 15 is a no-op.
	res, err = w.eval.CertifyRank(ctx, "g1", "u1", "voice", 15)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Rejected != RejectAlreadyDone {
		t.Fatalf("replay res = %+v", res)
	}
	total, _, _ := w.exp.Total("u1")
	if total != 40 {
		t.Errorf("total = %d, want 40", total)
	}
}

func TestCompleteAdminOverride(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	res, err := w.eval.Complete(ctx, "g1", "u1", "bbibbi")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.ExpGained != 5 {
		t.Fatalf("res = %+v", res)
	}
	res, err = w.eval.Complete(ctx, "g1", "u1", "bbibbi")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Rejected != RejectAlreadyDone {
		t.Fatalf("replay res = %+v", res)
	}
}

func TestQuestRewardOverride(t *testing.T) {
	w := newWorld(t)
	if err := w.set.SetJSON("g1", data.SettingQuestRewards, map[string]int64{
		"attendance": 25,
	}); err != nil {
		t.Fatal(err)
	}
	res, err := w.eval.Attendance(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExpGained != 25 {
		t.Errorf("overridden reward = %d, want 25", res.ExpGained)
	}
}
